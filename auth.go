package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/localsync/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save credentials for the remote API",
		Long: `Store an OAuth2 token for the remote API in the token file.

Pass the token with flags, or use --from-file with a JSON token as issued
by the authorization server (access_token, refresh_token, expires_in or
expiry). With [remote] token_url configured, expired tokens are refreshed
and written back automatically.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogin,
	}

	cmd.Flags().String("access-token", "", "access token")
	cmd.Flags().String("refresh-token", "", "refresh token")
	cmd.Flags().Duration("expires-in", 0, "access token lifetime (0: unknown)")
	cmd.Flags().String("from-file", "", "read the token from a JSON file ('-' for stdin)")
	cmd.Flags().String("user-id", "", "signed-in user id, substituted for @me in dispatch arguments")
	cmd.MarkFlagsMutuallyExclusive("from-file", "access-token")
	cmd.MarkFlagsMutuallyExclusive("from-file", "refresh-token")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove saved credentials",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	tok, err := tokenFromFlags(cmd)
	if err != nil {
		return err
	}

	userID, err := cmd.Flags().GetString("user-id")
	if err != nil {
		return err
	}

	var meta map[string]string
	if userID != "" {
		meta = map[string]string{tokenfile.MetaUserID: userID}
	}

	path := cc.Cfg.Remote.TokenFile
	if path == "" {
		return errors.New("no token file path; set [remote] token_file")
	}

	if err := tokenfile.Save(path, tok, meta); err != nil {
		return err
	}

	cc.Logger.Info("login: token saved", "path", path, "refreshable", tok.RefreshToken != "")
	cc.Statusf("Credentials saved to %s\n", path)

	return nil
}

// tokenFromFlags builds the token from --from-file or the individual flags.
func tokenFromFlags(cmd *cobra.Command) (*oauth2.Token, error) {
	from, _ := cmd.Flags().GetString("from-file")
	if from != "" {
		return readTokenJSON(from)
	}

	access, _ := cmd.Flags().GetString("access-token")
	refresh, _ := cmd.Flags().GetString("refresh-token")
	expiresIn, _ := cmd.Flags().GetDuration("expires-in")

	if access == "" && refresh == "" {
		return nil, errors.New("specify --access-token, --refresh-token or --from-file")
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if expiresIn > 0 {
		tok.Expiry = time.Now().Add(expiresIn)
	}

	return tok, nil
}

// tokenJSON accepts both a stored oauth2.Token and a raw token endpoint
// response.
type tokenJSON struct {
	oauth2.Token
	ExpiresIn int64 `json:"expires_in"`
}

func readTokenJSON(path string) (*oauth2.Token, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	var tj tokenJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}

	if tj.AccessToken == "" && tj.RefreshToken == "" {
		return nil, errors.New("token has neither access_token nor refresh_token")
	}

	tok := tj.Token
	if tok.Expiry.IsZero() && tj.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tj.ExpiresIn) * time.Second)
	}

	return &tok, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := cc.Cfg.Remote.TokenFile

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cc.Statusf("Not logged in.\n")
			return nil
		}

		return fmt.Errorf("removing token file: %w", err)
	}

	cc.Logger.Info("logout: token removed", "path", path)
	cc.Statusf("Logged out.\n")

	return nil
}
