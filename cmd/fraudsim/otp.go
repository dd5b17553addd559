package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storefront-guard/internal/client"
	"storefront-guard/internal/riskmeta"
)

func (a *app) otpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Request and verify one-time passcodes",
	}

	send := &cobra.Command{
		Use:   "send",
		Short: "Ask the server to text a code to a mobile number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.postJSON(cmd, "/send-otp", map[string]string{
				"mobile": a.v.GetString("mobile"),
			})
		},
	}
	send.Flags().StringP("mobile", "m", "", "Mobile number, 10 digits or +<country><number>")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check a code the server sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.postJSON(cmd, "/verify-otp", map[string]string{
				"mobile": a.v.GetString("mobile"),
				"otp":    a.v.GetString("otp"),
			})
		},
	}
	verify.Flags().StringP("mobile", "m", "", "Mobile number the code was sent to")
	verify.Flags().StringP("otp", "o", "", "The six digit code")

	cmd.AddCommand(send, verify)
	return cmd
}

// cliSession identifies this process to the server's risk journal.
var cliSession = struct {
	id          string
	fingerprint string
}{
	id: riskmeta.NewSessionID(time.Now()),
	fingerprint: riskmeta.DeviceSignals{
		UserAgent: "fraudsim/" + Version,
		Renderer:  "cli",
	}.Fingerprint(),
}

// postJSON sends body to the server and prints the response. Non-2xx
// responses are printed and reported as an error.
func (a *app) postJSON(cmd *cobra.Command, path string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimRight(a.v.GetString("server"), "/") + path
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(riskmeta.HeaderSessionID, cliSession.id)
	req.Header.Set(riskmeta.HeaderFingerprint, cliSession.fingerprint)
	req.Header.Set(riskmeta.HeaderTimezone, time.Local.String())

	hc := client.NewHTTPClient(client.WithTimeout(a.v.GetDuration("timeout")))
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	return nil
}
