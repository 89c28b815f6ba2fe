package model

import "time"

type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	IsPaidUser bool      `json:"is_paid_user"`
	Tier       string    `json:"tier"`
	CreatedAt  time.Time `json:"created_at"`
}
