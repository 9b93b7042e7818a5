package dto

type CreateProposalRequest struct {
	Title         string   `json:"title" binding:"required,min=1,max=200"`
	Description   string   `json:"description"`
	Options       []string `json:"options" binding:"required,min=2"`
	DurationHours int      `json:"duration_hours" binding:"required,min=1,max=168"`
}

type VoteRequest struct {
	OptionID string `json:"option_id" binding:"required,uuid"`
}
