package models

import "time"

type Currency struct {
	ID        int32     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Chain     string    `json:"chain"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID           int64     `json:"id"`
	LoginID      string    `json:"login_id"`
	ReferralCode string    `json:"referral_code"`
	Level        int       `json:"level"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}
