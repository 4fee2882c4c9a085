package types

// Client -> Server request bodies.

type ChooseRequest struct {
	HandID uint `json:"handId"`
}

type PickRequest struct {
	PlayedSetID int `json:"playedSetId"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

// Server -> Client

type MatchCreated struct {
	MatchID uint   `json:"matchId"`
	JoinURL string `json:"joinUrl,omitempty"`
}

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
