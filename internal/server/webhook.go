package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/go-github/v44/github"

	"workflowci/internal/core"
)

// SignatureHeader carries the HMAC-SHA256 of the request body, GitHub style.
const SignatureHeader = "X-Hub-Signature-256"

// decodeWebhook turns a GitHub webhook body into an Event. Deleted branches
// and unsupported event kinds are reported as errors.
func decodeWebhook(kind string, body []byte) (core.Event, error) {
	payload, err := github.ParseWebHook(kind, body)
	if err != nil {
		return core.Event{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	switch e := payload.(type) {
	case *github.PushEvent:
		if e.GetDeleted() {
			return core.Event{}, fmt.Errorf("push deletes %s", e.GetRef())
		}
		return core.Event{
			Name:     core.EventPush,
			Ref:      e.GetRef(),
			SHA:      e.GetAfter(),
			CloneURL: e.GetRepo().GetCloneURL(),
			Time:     now,
		}, nil
	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		return core.Event{
			Name:     core.EventPullRequest,
			Action:   e.GetAction(),
			Ref:      fmt.Sprintf("refs/pull/%d/merge", e.GetNumber()),
			HeadRef:  pr.GetHead().GetRef(),
			BaseRef:  pr.GetBase().GetRef(),
			SHA:      pr.GetHead().GetSHA(),
			CloneURL: e.GetRepo().GetCloneURL(),
			Time:     now,
		}, nil
	default:
		return core.Event{}, fmt.Errorf("unsupported webhook event %q", kind)
	}
}

// checkSignature validates the SignatureHeader value against secret.
func checkSignature(secret, header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}
	return github.ValidateSignature(header, body, []byte(secret))
}

// SignPayload renders the SignatureHeader value for body, as GitHub computes it.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
