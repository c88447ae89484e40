package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/transcript"
	"github.com/kalambet/botdash/internal/video"
)

// --- videos ---

var videosCmd = &cobra.Command{
	Use:     "videos",
	Aliases: []string{"v"},
	Short:   "Collect and submit videos for a bot",
}

var videosFetchCmd = &cobra.Command{
	Use:   "fetch <link>",
	Short: "Look up videos behind a channel, playlist or page link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.videos()
		added, err := m.Fetch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess("Found %d new videos (%d total, %d pages)", added, len(m.Candidates()), m.PageCount())
		return nil
	},
}

var videosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidate videos one page at a time",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.videos()
		if len(m.Candidates()) == 0 {
			printWarning("No candidates. Run `botdash videos fetch <link>` first.")
			return nil
		}
		page = m.SetPage(page)
		for _, u := range m.Page(page) {
			mark := "[ ]"
			if m.IsSelected(u) {
				mark = colorize(colorGreen, "[x]")
			}
			fmt.Fprintf(stdout, "%s %s\n", mark, u)
		}
		fmt.Fprintf(stdout, "page %d/%d, %d selected\n", page, m.PageCount(), len(m.Selected()))
		return nil
	},
}

var videosSelectCmd = &cobra.Command{
	Use:   "select <url>...",
	Short: "Select candidate videos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.videos()
		for _, u := range args {
			if err := m.Select(u); err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
		}
		printSuccess("%d selected", len(m.Selected()))
		return nil
	},
}

var videosDeselectCmd = &cobra.Command{
	Use:   "deselect <url>...",
	Short: "Deselect videos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.videos()
		for _, u := range args {
			if err := m.Deselect(u); err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
		}
		printSuccess("%d selected", len(m.Selected()))
		return nil
	},
}

var videosSelectAllCmd = &cobra.Command{
	Use:   "select-all",
	Short: "Select every candidate",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.videos()
		if err := m.SelectAll(); err != nil {
			return err
		}
		printSuccess("%d selected", len(m.Selected()))
		return nil
	},
}

var videosClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.videos().ClearSelection(); err != nil {
			return err
		}
		printSuccess("Selection cleared")
		return nil
	},
}

var videosSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit the selection to a bot",
	Long: `Submit the selected videos for ingestion by a bot. A bot that is still
in progress is activated once the batch is accepted.

Examples:
  botdash videos submit --bot 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		botID, _ := cmd.Flags().GetInt64("bot")
		if botID <= 0 {
			return fmt.Errorf("--bot is required")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireSession(); err != nil {
			return err
		}

		m := a.videos()
		if len(m.Selected()) == 0 {
			return video.ErrEmptySelection
		}
		bot, err := a.client.GetBot(cmd.Context(), botID)
		if err != nil {
			return fmt.Errorf("loading bot %d: %w", botID, err)
		}
		m.Bind(bot)

		n := len(m.Selected())
		res, err := m.Submit(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Submitted %d videos to %s (%s)", n, bot.Name, res.Status)
		if after, ok := m.Target(); ok && after.Status != bot.Status {
			printStatus("Bot status", "%s", after.Status)
		}
		return nil
	},
}

func init() {
	videosListCmd.Flags().Int("page", 1, "page number")
	videosSubmitCmd.Flags().Int64("bot", 0, "target bot id")
	videosCmd.AddCommand(videosFetchCmd)
	videosCmd.AddCommand(videosListCmd)
	videosCmd.AddCommand(videosSelectCmd)
	videosCmd.AddCommand(videosDeselectCmd)
	videosCmd.AddCommand(videosSelectAllCmd)
	videosCmd.AddCommand(videosClearCmd)
	videosCmd.AddCommand(videosSubmitCmd)
}

// --- transcripts ---

var transcriptsCmd = &cobra.Command{
	Use:     "transcripts",
	Aliases: []string{"t"},
	Short:   "Store transcripts and ask questions about them",
}

var transcriptsPatientsCmd = &cobra.Command{
	Use:   "patients [query]",
	Short: "Search patients",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var query string
		if len(args) == 1 {
			query = args[0]
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireSession(); err != nil {
			return err
		}

		list, err := a.transcripts().SearchPatients(cmd.Context(), query)
		if err != nil {
			return err
		}
		for _, p := range list {
			fmt.Fprintf(stdout, "%s  %s  %s\n", colorize(colorBold, strconv.FormatInt(p.ID, 10)), p.Name, p.DateOfBirth)
		}
		return nil
	},
}

// readTranscript loads the body of a record from --file or --text.
func readTranscript(file, text string) (string, error) {
	switch {
	case file != "" && text != "":
		return "", fmt.Errorf("use either --file or --text, not both")
	case file == "":
		return text, nil
	case strings.EqualFold(filepath.Ext(file), ".pdf"):
		return transcript.ImportPDF(file)
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return string(data), nil
	}
}

var transcriptsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a transcript record",
	Long: `Create a transcript record for a patient from a PDF, a text file or
inline text.

Examples:
  botdash transcripts create --patient 7 --file visit.pdf
  botdash transcripts create --patient 7 --title "Follow-up" --text "..."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		patientID, _ := cmd.Flags().GetInt64("patient")
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")

		content, err := readTranscript(file, text)
		if err != nil {
			return err
		}
		if title == "" && file != "" {
			title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireSession(); err != nil {
			return err
		}

		rec, err := a.transcripts().CreateRecord(cmd.Context(), backend.Record{
			PatientID: patientID,
			Title:     title,
			Content:   content,
		})
		if err != nil {
			return err
		}
		printSuccess("Created record %d (%s)", rec.ID, rec.Title)
		return nil
	},
}

var transcriptsAskCmd = &cobra.Command{
	Use:   "ask <record-id> [question]",
	Short: "Ask about a transcript",
	Long: `Ask a question about a transcript record. Without a question, each line
read from stdin is asked in turn as one conversation.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || recordID <= 0 {
			return fmt.Errorf("invalid record id %q", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireSession(); err != nil {
			return err
		}

		chat := a.transcripts().Chat(recordID)
		if len(args) == 2 {
			answer, err := chat.Ask(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, answer)
			return nil
		}

		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			q := strings.TrimSpace(sc.Text())
			if q == "" {
				continue
			}
			answer, err := chat.Ask(cmd.Context(), q)
			if err != nil {
				printError("%v", err)
				continue
			}
			fmt.Fprintf(stdout, "%s %s\n", colorize(colorCyan, "»"), answer)
		}
		return sc.Err()
	},
}

func init() {
	transcriptsCreateCmd.Flags().Int64("patient", 0, "patient id")
	transcriptsCreateCmd.Flags().String("title", "", "record title")
	transcriptsCreateCmd.Flags().String("file", "", "PDF or text file to import")
	transcriptsCreateCmd.Flags().String("text", "", "transcript text")
	transcriptsCmd.AddCommand(transcriptsPatientsCmd)
	transcriptsCmd.AddCommand(transcriptsCreateCmd)
	transcriptsCmd.AddCommand(transcriptsAskCmd)
}
