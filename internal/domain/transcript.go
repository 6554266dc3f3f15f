package domain

// Turn is one role-tagged utterance handed to the reasoning runtime.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is an ordered, oldest-first sequence of turns whose last element
// is the current user query. It is assembled per request and never stored.
type Transcript []Turn

// Query returns the content of the final user turn, or "" when the
// transcript does not end with one.
func (t Transcript) Query() string {
	if len(t) == 0 || t[len(t)-1].Role != RoleUser {
		return ""
	}
	return t[len(t)-1].Content
}

// History returns every turn before the current query.
func (t Transcript) History() Transcript {
	if len(t) == 0 {
		return nil
	}
	return t[:len(t)-1]
}
