package ledger

// Actor is the authenticated user on whose behalf an operation runs.
type Actor struct {
	UserID   uint
	IsAdmin  bool
	IsDriver bool
}
