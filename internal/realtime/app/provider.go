package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/service"
)

// FileTokenProvider reads the bearer token from a file on every fetch. The
// host application owns the real identity-provider exchange and drops fresh
// tokens at this path; an empty or missing file means no session exists.
type FileTokenProvider struct {
	Path string
}

func (p *FileTokenProvider) FetchToken(ctx context.Context) (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &service.ProviderError{Code: "auth_required", Message: "no token present"}
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", &service.ProviderError{Code: "auth_required", Message: "token file empty"}
	}
	return token, nil
}
