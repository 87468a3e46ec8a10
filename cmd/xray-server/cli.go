package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xray/xray/internal/domain/xray"
	"github.com/xray/xray/internal/platform/auth"
	"github.com/xray/xray/internal/platform/report"
)

// queryFlags are shared by the offline listing commands.
type queryFlags struct {
	search string
	letter string
	token  string
	json   bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.search, "search", "", "Free-text filter over name, DNI and description")
	cmd.Flags().StringVar(&f.letter, "letter", "", "Only patients whose name starts with this letter")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("RECORDS_API_TOKEN"), "Bearer token for the remote records API")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print JSON instead of a table")
}

func (f *queryFlags) criteria() (xray.Criteria, error) {
	c := xray.Criteria{Search: f.search}
	if f.letter == "" {
		return c, nil
	}
	if utf8.RuneCountInString(f.letter) != 1 {
		return c, fmt.Errorf("--letter must be a single character, got %q", f.letter)
	}
	r, _ := utf8.DecodeRuneInString(f.letter)
	c.Letter = unicode.ToUpper(r)
	return c, nil
}

// withService loads config, opens the roster and hands run a Service plus a
// context carrying the CLI identity.
func withService(cmd *cobra.Command, token string, run func(ctx context.Context, svc *xray.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	roster, pool, err := openRoster(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open roster: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	svc := newService(cfg, roster, logger)
	return run(auth.WithIdentity(ctx, "cli", []string{"admin"}, token), svc)
}

func filesCmd() *cobra.Command {
	var flags queryFlags
	var pdfPath string

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Print the patient-file summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			crit, err := flags.criteria()
			if err != nil {
				return err
			}
			return withService(cmd, flags.token, func(ctx context.Context, svc *xray.Service) error {
				files, err := svc.PatientFiles(ctx, crit)
				if err != nil {
					return err
				}
				if pdfPath != "" {
					return writePDF(pdfPath, files, crit)
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), files)
				}
				printFiles(cmd.OutOrStdout(), files)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "Write the list as a PDF to this path")
	return cmd
}

func searchCmd() *cobra.Command {
	var flags queryFlags
	var lettersOnly bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "List X-ray images matching a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.search = args[0]
			}
			crit, err := flags.criteria()
			if err != nil {
				return err
			}
			return withService(cmd, flags.token, func(ctx context.Context, svc *xray.Service) error {
				if lettersOnly {
					letters, err := svc.Letters(ctx, crit.Search)
					if err != nil {
						return err
					}
					if flags.json {
						return writeJSON(cmd.OutOrStdout(), xray.LetterStrings(letters))
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(letters))
					return nil
				}

				images, err := svc.XRays(ctx, crit)
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), images)
				}
				printImages(cmd.OutOrStdout(), images)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&lettersOnly, "letters", false, "Print only the available facet letters")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePDF(path string, files []xray.PatientFile, crit xray.Criteria) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := report.WritePatientFiles(f, xray.ReportRows(files), report.Options{
		Filter:      xray.DescribeCriteria(crit),
		GeneratedAt: time.Now(),
	}); err != nil {
		return err
	}
	return f.Close()
}

func printFiles(w io.Writer, files []xray.PatientFile) {
	fmt.Fprintf(w, "%-14s %-32s %6s %9s %8s  %s\n", "DNI", "PATIENT", "XRAYS", "ANALYZED", "PENDING", "LAST UPLOAD")
	for _, f := range files {
		fmt.Fprintf(w, "%-14s %-32s %6d %9d %8d  %s\n",
			f.PatientDNI, truncate(f.PatientName, 32), f.XRayCount, f.AnalyzedCount, f.PendingCount, f.LastUpload)
	}
	fmt.Fprintf(w, "%d patient file(s)\n", len(files))
}

func printImages(w io.Writer, images []xray.ImageRecord) {
	fmt.Fprintf(w, "%-8s %-14s %-28s %-9s %-26s %s\n", "ID", "DNI", "PATIENT", "STATUS", "UPLOADED", "DESCRIPTION")
	for _, img := range images {
		status := "pending"
		if img.IsAnalyzed {
			status = "analyzed"
		}
		fmt.Fprintf(w, "%-8s %-14s %-28s %-9s %-26s %s\n",
			img.ID, img.PatientDNI, truncate(img.PatientName, 28), status, img.UploadedAt, img.Description)
	}
	fmt.Fprintf(w, "%d image(s)\n", len(images))
}

// truncate shortens s to n runes so table columns stay aligned.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
