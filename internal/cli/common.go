package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultEndpoint is the prevant server address assumed when neither
// --server nor PREVANT_SERVER is set.
const DefaultEndpoint = "http://localhost:8860"

// GetDefaultEndpoint resolves the default --server flag value: the
// PREVANT_SERVER environment variable if set, otherwise DefaultEndpoint.
func GetDefaultEndpoint() string {
	if v := os.Getenv("PREVANT_SERVER"); v != "" {
		return v
	}
	return DefaultEndpoint
}

// CheckServerRunning verifies that a prevant server is reachable at
// endpoint by requesting its apps listing. It is typically used before
// attempting to execute commands that require server connectivity.
func CheckServerRunning(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint + "/apps/")
	if err != nil {
		if connErr := ClassifyConnectionError(err, endpoint); connErr != nil {
			return connErr
		}
		return fmt.Errorf("prevant server is not running. Start it with: prevant serve")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("prevant server is not responding correctly (status: %d)", resp.StatusCode)
	}

	return nil
}

// FormatError formats an error message for consistent CLI output display.
func FormatError(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

// FormatSuccess formats a success message for CLI output with a checkmark icon.
func FormatSuccess(msg string) string {
	return fmt.Sprintf("✓ %s", msg)
}

// FormatWarning formats a warning message for CLI output with a warning icon.
func FormatWarning(msg string) string {
	return fmt.Sprintf("⚠ %s", msg)
}
