package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/config"
	"quiz-session-sync/internal/domain"
	"quiz-session-sync/internal/infra/sqlite"

	"github.com/spf13/cobra"
)

// NewThemesCmd prints the themes that can serve a question count.
func NewThemesCmd(configPath *string) *cobra.Command {
	var (
		count int
		lang  string
	)
	cmd := &cobra.Command{
		Use:   "themes",
		Short: "List playable themes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			themes, err := app.NewThemeResolver(b.catalog, cfg.QuizDefaults()).
				GetThemeAvailability(cmd.Context(), app.ThemeQuery{QuestionCount: count, Language: lang})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tLABEL\tAVAILABLE\tMIN")
			for _, t := range themes {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", t.Slug, t.Label, t.AvailableQuestionCount, t.MinQuestionCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "questions per game (defaults to quiz.question_count)")
	cmd.Flags().StringVar(&lang, "lang", "en", "label language")
	return cmd
}

// NewHotseatCmd plays a pass-and-play game on the terminal. State lives in the SQLite file, so an
// interrupted game can be resumed with --resume.
func NewHotseatCmd(configPath *string) *cobra.Command {
	var (
		players  []string
		category string
		count    int
		lang     string
		resume   string
		list     bool
	)
	cmd := &cobra.Command{
		Use:   "hotseat",
		Short: "Play an offline hot-seat game",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			kv, err := sqlite.Open(cfg.Offline.SQLitePath)
			if err != nil {
				return err
			}
			defer kv.Close()
			if list {
				keys, err := kv.Keys(cmd.Context(), app.OfflineSessionKeyPrefix)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), strings.TrimPrefix(key, app.OfflineSessionKeyPrefix))
				}
				return nil
			}
			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			queue := app.NewOfflineSyncQueue(kv, b.attempts, app.StaticIdentity(""))
			engine := app.NewOfflineHotseatEngine(kv, b.bank, queue, cfg.QuizDefaults(), nil)

			var session domain.OfflineHotseatSession
			if resume != "" {
				session, err = engine.Load(cmd.Context(), resume)
			} else {
				in := app.OfflineHotseatInput{CategorySlug: category, PlayerNames: players, Language: lang}
				if count > 0 {
					in.Settings.QuestionCount = &count
				}
				session, err = engine.Create(cmd.Context(), in)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s\n", session.ID)
			return playHotseat(cmd.Context(), engine, session, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&players, "players", nil, "player names in seat order (2 to 8)")
	cmd.Flags().StringVar(&category, "category", "", "theme slug or label")
	cmd.Flags().IntVar(&count, "count", 0, "number of questions")
	cmd.Flags().StringVar(&lang, "lang", "", "question language")
	cmd.Flags().StringVar(&resume, "resume", "", "resume a saved session id")
	cmd.Flags().BoolVar(&list, "list", false, "list saved sessions and exit")
	return cmd
}

// playHotseat reads one line per turn: an option number, or an empty line to skip.
func playHotseat(ctx context.Context, engine *app.OfflineHotseatEngine, session domain.OfflineHotseatSession, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for session.State == domain.StateInProgress {
		question, _ := session.CurrentQuestion()
		player, _ := session.CurrentPlayer()
		fmt.Fprintf(out, "\nQ%d/%d for %s: %s\n", session.CurrentQuestionIndex+1, len(session.Questions), player.DisplayName, question.Text)
		for i, option := range question.Options {
			fmt.Fprintf(out, "  %d) %s\n", i+1, option)
		}
		fmt.Fprint(out, "> ")

		asked := time.Now()
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\ninput closed; resume with --resume %s\n", session.ID)
			return nil
		}
		choice := strings.TrimSpace(scanner.Text())

		var err error
		if n, convErr := strconv.Atoi(choice); convErr == nil && n >= 1 && n <= len(question.Options) {
			session, err = engine.SubmitAnswer(ctx, session.ID, question.Options[n-1], int(time.Since(asked)/time.Millisecond))
		} else {
			session, err = engine.SkipTurn(ctx, session.ID)
		}
		if err != nil {
			return err
		}
		last := session.Answers[len(session.Answers)-1]
		if last.IsCorrect {
			fmt.Fprintln(out, "correct")
		} else {
			fmt.Fprintf(out, "wrong, answer was %s\n", question.CorrectAnswer)
		}
	}

	fmt.Fprintln(out, "\nfinal scores:")
	for _, p := range session.Players {
		fmt.Fprintf(out, "  %s: %d\n", p.DisplayName, p.Score)
	}
	return nil
}

// NewOfflineSyncCmd replays finished offline games into attempt history for --user.
func NewOfflineSyncCmd(configPath *string) *cobra.Command {
	var (
		user     string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "offline-sync",
		Short: "Upload finished offline games to attempt history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errors.New("offline-sync needs postgres.url")
			}
			kv, err := sqlite.Open(cfg.Offline.SQLitePath)
			if err != nil {
				return err
			}
			defer kv.Close()
			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			queue := app.NewOfflineSyncQueue(kv, b.attempts, app.StaticIdentity(user)).WithParallelism(parallel)
			result, err := queue.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d synced=%d remaining=%d\n", result.Processed, result.Synced, result.Remaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account id the attempts belong to")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "concurrent uploads")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
