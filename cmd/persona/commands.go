package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/persona/internal/chat"
	"github.com/kalambet/persona/internal/config"
	"github.com/kalambet/persona/internal/ingest"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		email, _ := cmd.Flags().GetString("email")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/users", map[string]any{
			"id":    id,
			"name":  args[0],
			"email": email,
		})
		if err != nil {
			return err
		}

		var user storage.User
		if err := decodeJSON(resp, &user); err != nil {
			return err
		}

		printSuccess("Created user %s", user.ID)
		fmt.Fprintln(cmd.OutOrStdout(), user.ID)
		return nil
	},
}

var usersMeCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/me")
		if err != nil {
			return err
		}

		var user storage.User
		if err := decodeJSON(resp, &user); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), user)
	},
}

func init() {
	usersCreateCmd.Flags().String("id", "", "user id (default: generated)")
	usersCreateCmd.Flags().String("email", "", "email address")
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersMeCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit a raw record from a data source",
	Long: `Submit a raw record from a data source.

Examples:
  persona ingest --source ios_contacts --payload '{"first_name":"Grace","last_name":"Lee","organization":"St. Mary Hospital"}'
  persona ingest --source gmail --file ./message.json --process`,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		payload, _ := cmd.Flags().GetString("payload")
		file, _ := cmd.Flags().GetString("file")
		dataType, _ := cmd.Flags().GetString("type")
		processNow, _ := cmd.Flags().GetBool("process")

		if source == "" {
			return fmt.Errorf("--source is required")
		}
		if !storage.Source(source).Valid() {
			return fmt.Errorf("unknown source %q", source)
		}
		if payload == "" && file == "" {
			return fmt.Errorf("one of --payload or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			payload = string(data)
		}
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload is not valid JSON")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/records", map[string]any{
			"source":      source,
			"data_type":   dataType,
			"payload":     json.RawMessage(payload),
			"process_now": processNow,
		})
		if err != nil {
			return err
		}

		var rec storage.RawRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		switch rec.Status {
		case storage.StatusFailed:
			printWarning("Stored record %s but extraction failed: %s", rec.ID, rec.ErrorMessage)
		case storage.StatusPending:
			printSuccess("Queued record %s", rec.ID)
		default:
			printSuccess("Stored record %s (%s)", rec.ID, rec.Status)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "data source: gmail, google_drive, ios_contacts, ios_calendar")
	ingestCmd.Flags().String("payload", "", "record payload as JSON")
	ingestCmd.Flags().String("file", "", "read the JSON payload from a file")
	ingestCmd.Flags().String("type", "", "data type label")
	ingestCmd.Flags().Bool("process", false, "extract the record immediately")
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process pending records now",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/records/process?limit=%d", limit), nil)
		if err != nil {
			return err
		}

		var res ingest.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Processed %d, failed %d, skipped %d", res.ProcessedCount, res.FailedCount, res.SkippedCount)
		for _, e := range res.Errors {
			printWarning("%s", e)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().Int("limit", 100, "maximum number of records to process")
}

// --- records ---

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Browse stored records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		source, _ := cmd.Flags().GetString("source")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if source != "" {
			q.Set("source", source)
		}
		resp, err := client.get(cmd.Context(), "/records?"+q.Encode())
		if err != nil {
			return err
		}

		var records []storage.RawRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No records found.")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(out, "%s  %-12s  %-9s  %s\n",
				colorize(styleStep, shortID(r.ID)),
				r.Source,
				r.Status,
				r.CollectedAt.Local().Format(chatTimeLayout),
			)
		}
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/records/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var rec storage.RawRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record and rebuild preferences",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/records/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted record %s", args[0])
		return nil
	},
}

func init() {
	recordsListCmd.Flags().Int("limit", 20, "maximum number of records to list")
	recordsListCmd.Flags().String("source", "", "only list records from this source")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or rebuild aggregated preferences",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/preferences")
		if err != nil {
			return err
		}

		var prefs storage.UserPreferences
		if err := decodeJSON(resp, &prefs); err != nil {
			return err
		}

		if asYAML {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(prefs)
		}
		return printJSON(cmd.OutOrStdout(), prefs)
	},
}

var profileRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild preferences from all records",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Rebuilding preferences...")
		resp, err := client.post(cmd.Context(), "/preferences/rebuild", nil)
		if err != nil {
			return err
		}

		var prefs storage.UserPreferences
		if err := decodeJSON(resp, &prefs); err != nil {
			return err
		}

		printSuccess("Rebuilt profile: %d interests, %d relationships, %d tasks",
			len(prefs.Interests), len(prefs.Relationships), len(prefs.Tasks))
		return nil
	},
}

func init() {
	profileShowCmd.Flags().Bool("yaml", false, "print as YAML instead of JSON")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileRebuildCmd)
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Summarize what persona knows about you",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/insights")
		if err != nil {
			return err
		}

		var insights []profile.Insight
		if err := decodeJSON(resp, &insights); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(insights) == 0 {
			fmt.Fprintln(out, "No insights yet. Ingest some records first.")
			return nil
		}
		for _, in := range insights {
			fmt.Fprintf(out, "%s %s %s\n",
				colorize(styleBold, in.Type+":"),
				in.Description,
				colorize(styleFaint, fmt.Sprintf("(%.0f%%)", in.Confidence*100)),
			)
		}
		return nil
	},
}

// --- chat ---

const chatTimeLayout = "2006-01-02 15:04"

var chatCmd = &cobra.Command{
	Use:   "chat [question...]",
	Short: "Ask a question, or start an interactive session with no arguments",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			_, err := askOnce(cmd, client, out, sessionID, strings.Join(args, " "))
			return err
		}

		fmt.Fprintln(out, colorize(styleFaint, "Type a question, or \"exit\" to quit."))
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, colorize(styleBold, "> "))
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			sessionID, err = askOnce(cmd, client, out, sessionID, line)
			if err != nil {
				printError("%v", err)
			}
		}
	},
}

// askOnce sends one message and prints the reply. It returns the session id
// to continue the conversation with.
func askOnce(cmd *cobra.Command, client *apiClient, out io.Writer, sessionID, message string) (string, error) {
	resp, err := client.post(cmd.Context(), "/chat/messages", map[string]any{
		"message":    message,
		"session_id": sessionID,
	})
	if err != nil {
		return sessionID, err
	}

	var reply chat.Response
	if err := decodeJSON(resp, &reply); err != nil {
		return sessionID, err
	}

	fmt.Fprintln(out, reply.Message)
	if len(reply.Sources) > 0 {
		fmt.Fprintln(out, colorize(styleFaint, "Sources: "+strings.Join(reply.Sources, ", ")))
	}
	if reply.SessionID != "" {
		sessionID = reply.SessionID
	}
	return sessionID, nil
}

func init() {
	chatCmd.Flags().String("session", "", "continue an existing session")
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/chat/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var sessions []storage.ChatSession
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		for _, s := range sessions {
			first := ""
			for _, m := range s.Messages {
				if m.Role == storage.RoleUser {
					first = m.Content
					break
				}
			}
			if len(first) > 60 {
				first = first[:60] + "..."
			}
			fmt.Fprintf(out, "%s  %s  %3d msgs  %s\n",
				colorize(styleStep, s.SessionID),
				s.LastActivityAt.Local().Format(chatTimeLayout),
				len(s.Messages),
				first,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/chat/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var session storage.ChatSession
		if err := decodeJSON(resp, &session); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, m := range session.Messages {
			label := "you"
			style := styleBold
			if m.Role == storage.RoleAssistant {
				label = "persona"
				style = styleSuccess
			}
			fmt.Fprintf(out, "%s %s\n%s\n\n",
				colorize(style, label),
				colorize(styleFaint, m.Timestamp.Local().Format(chatTimeLayout)),
				m.Content,
			)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Close a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/chat/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Closed session %s", args[0])
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 10, "maximum number of sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(styleBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
