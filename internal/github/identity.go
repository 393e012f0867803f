package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodeVisible reports whether the verification code appears in the user's
// public profile bio or in a public gist description. Read-only, no side
// effects.
func (c *Client) CodeVisible(ctx context.Context, githubUser, code string) (bool, error) {
	bio, err := c.run(ctx, "api", fmt.Sprintf("users/%s", githubUser), "--jq", ".bio // \"\"")
	if err != nil {
		return false, err
	}
	if strings.Contains(bio, code) {
		return true, nil
	}

	out, err := c.run(ctx, "api", fmt.Sprintf("users/%s/gists?per_page=30", githubUser))
	if err != nil {
		return false, err
	}
	var gists []struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(out), &gists); err != nil {
		return false, fmt.Errorf("parse gists: %w", err)
	}
	for _, g := range gists {
		if strings.Contains(g.Description, code) {
			return true, nil
		}
	}
	return false, nil
}
