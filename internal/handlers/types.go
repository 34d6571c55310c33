package handlers

import "time"

// NextNumberRequest names the repository to look up.
type NextNumberRequest struct {
	Owner string `doc:"Repository owner" example:"octocat"     minLength:"1" query:"owner" required:"true"`
	Name  string `doc:"Repository name"  example:"hello-world" minLength:"1" query:"name"  required:"true"`
}

// NextNumberResponse is the number the next discussion, issue or pull request will get.
type NextNumberResponse struct {
	Body int `doc:"Next number" example:"42"`
}

// WindowBody describes one rate limit window.
type WindowBody struct {
	Duration  int       `doc:"Window length in minutes"       example:"60"   json:"duration"`
	Limit     int64     `doc:"Lookups allowed in the window"  example:"25"   json:"limit"`
	Value     int64     `doc:"Lookups counted so far"         example:"3"    json:"value"`
	Remaining int64     `doc:"Lookups left before throttling" example:"22"   json:"remaining"`
	Expiry    time.Time `doc:"When the window resets"         json:"expiry"`
}

// RateLimitResponse reports the lookup quota.
type RateLimitResponse struct {
	Body struct {
		Windows []WindowBody `json:"windows"`
	}
}
