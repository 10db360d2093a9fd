package session

// State is the credential lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateClientInfoFetched
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateClientInfoFetched:
		return "client_info_fetched"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}
