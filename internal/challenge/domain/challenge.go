package domain

// Origin describes where a login attempt came from. Constructed fresh for
// every decision, never persisted.
type Origin struct {
	Domain string
	IP     string
}

// Decision is the outcome of the post-primary-auth step.
type Decision struct {
	// ChallengeRequired is false when policy grants straight through.
	ChallengeRequired bool

	// Token is the opaque handle for the pending challenge. Only set when
	// ChallengeRequired is true.
	Token string

	// Grant carries the signed assertion when the login is granted without a
	// challenge.
	Grant *Grant
}

// Grant is handed back to the primary-auth layer once the login is cleared,
// either via policy bypass or a validated code. The assertion is a short-lived
// signed statement of how the user authenticated.
type Grant struct {
	UserID    string   `json:"user_id"`
	AMR       []string `json:"amr"`       // e.g. ["pwd"] or ["pwd", "sms"]
	Assertion string   `json:"assertion"` // EdDSA-signed JWT
}

// ChallengeStatus is display-only data for the code-entry page.
type ChallengeStatus struct {
	TimeLeftSeconds int    `json:"time_left_seconds"`
	PhoneMasked     string `json:"phone_masked"`
}
