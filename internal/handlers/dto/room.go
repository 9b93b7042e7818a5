package dto

type RegisterRequest struct {
	Handle      string `json:"handle" binding:"required,min=3,max=64"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateRoomRequest struct {
	Title   string `json:"title" binding:"required,min=1,max=200"`
	Persona string `json:"persona"`
}

// UpdateRoomRequest covers rename and persona switch; empty fields are
// left untouched.
type UpdateRoomRequest struct {
	Title   *string `json:"title"`
	Persona *string `json:"persona"`
}

type PostMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Persona string `json:"persona"` // empty = broadcast, no narration
}
