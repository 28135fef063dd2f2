package models

// APIProblem represents an RFC 7807 Problem Details response for API docs.
type APIProblem struct {
	Type     string `json:"type" example:"https://apwatch.dev/problems/conflict"`
	Title    string `json:"title" example:"Conflict"`
	Status   int    `json:"status" example:"409"`
	Detail   string `json:"detail,omitempty" example:"mac already mapped to another identity"`
	Instance string `json:"instance,omitempty" example:"/api/v1/tracker/associate"`
}
