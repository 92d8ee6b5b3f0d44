package abuse

import "context"

// CaptchaVerifier checks a CAPTCHA response with the provider.
type CaptchaVerifier interface {
	Verify(ctx context.Context, response, remoteIP string) (bool, error)
}

// CaptchaTokens issues and consumes one-time bypass tokens, scoped to a session.
// A consumed token lets exactly one request skip the CAPTCHA requirement.
type CaptchaTokens interface {
	Issue(ctx context.Context, sessionID string) (string, error)
	// Consume deletes the session's token and reports whether one existed.
	Consume(ctx context.Context, sessionID string) (bool, error)
}
