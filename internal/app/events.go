package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/RamXX/tminus-sub003/internal/apiclient"
	"github.com/RamXX/tminus-sub003/internal/calendar"
	"github.com/RamXX/tminus-sub003/internal/config"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/retry"
	"github.com/RamXX/tminus-sub003/internal/security"
)

const eventsUsage = `usage: tminus events <list|create|update|delete> [flags]

  list
  create -title TITLE -start RFC3339 [-end RFC3339] [-description TEXT] [-location TEXT]
  update ID [-title TITLE] [-start RFC3339] [-end RFC3339] [-description TEXT] [-location TEXT]
  delete ID`

// runEvents はイベントAPIに対してローカル一覧経由でイベントを操作し、結果をJSONでoutに書き出す。
// 失敗時は分類済みのメッセージを含むエラーを返す。
func runEvents(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New(eventsUsage)
	}

	cc := config.LoadEventsClient()
	client := apiclient.New(cc.APIURL, &http.Client{Timeout: cc.Timeout})
	store := calendar.NewStore(client, security.NewTextSanitizer(), client.TelemetrySink(slog.Default()), nil, slog.Default(),
		calendar.Config{MaxRetries: cc.RetryMax, BaseDelay: cc.RetryBaseDelay})
	defer store.Close()

	var (
		result any
		err    error
	)
	switch args[0] {
	case "list":
		if err = store.Refresh(ctx); err == nil {
			result = store.Events()
		}
	case "create":
		result, err = createEvent(ctx, store, args[1:])
	case "update":
		result, err = updateEvent(ctx, store, args[1:])
	case "delete":
		result, err = deleteEvent(ctx, store, args[1:])
	default:
		return errors.New(eventsUsage)
	}
	if err != nil {
		return describeError(err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// eventFlags はcreateとupdateで共通のフラグ。
type eventFlags struct {
	fs          *flag.FlagSet
	title       string
	start       string
	end         string
	description string
	location    string
}

func newEventFlags(name string) *eventFlags {
	f := &eventFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(io.Discard)
	f.fs.StringVar(&f.title, "title", "", "event title")
	f.fs.StringVar(&f.start, "start", "", "start time (RFC3339)")
	f.fs.StringVar(&f.end, "end", "", "end time (RFC3339)")
	f.fs.StringVar(&f.description, "description", "", "description")
	f.fs.StringVar(&f.location, "location", "", "location")
	return f
}

// set は明示的に指定されたフラグ名の集合を返す。
func (f *eventFlags) set() map[string]bool {
	set := map[string]bool{}
	f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return set
}

func parseTime(name, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -%s %q: expected RFC3339", name, raw)
	}
	return t, nil
}

func createEvent(ctx context.Context, store *calendar.Store, args []string) (model.CalendarEvent, error) {
	f := newEventFlags("create")
	if err := f.fs.Parse(args); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%w\n%s", err, eventsUsage)
	}
	if f.start == "" {
		return model.CalendarEvent{}, fmt.Errorf("-start is required\n%s", eventsUsage)
	}

	draft := model.EventDraft{Title: f.title, Description: f.description, Location: f.location}
	var err error
	if draft.Start, err = parseTime("start", f.start); err != nil {
		return model.CalendarEvent{}, err
	}
	if f.end != "" {
		if draft.End, err = parseTime("end", f.end); err != nil {
			return model.CalendarEvent{}, err
		}
	}
	return store.Create(ctx, draft)
}

func updateEvent(ctx context.Context, store *calendar.Store, args []string) (model.CalendarEvent, error) {
	if len(args) == 0 {
		return model.CalendarEvent{}, errors.New(eventsUsage)
	}
	id := args[0]
	f := newEventFlags("update")
	if err := f.fs.Parse(args[1:]); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%w\n%s", err, eventsUsage)
	}

	var patch model.EventPatch
	set := f.set()
	if set["title"] {
		patch.Title = &f.title
	}
	if set["description"] {
		patch.Description = &f.description
	}
	if set["location"] {
		patch.Location = &f.location
	}
	if set["start"] {
		t, err := parseTime("start", f.start)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		patch.Start = &t
	}
	if set["end"] {
		t, err := parseTime("end", f.end)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		patch.End = &t
	}

	// 更新対象を一覧から探すため、先にサーバーの一覧を読み込む
	if err := store.Refresh(ctx); err != nil {
		return model.CalendarEvent{}, err
	}
	return store.Update(ctx, id, patch)
}

func deleteEvent(ctx context.Context, store *calendar.Store, args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New(eventsUsage)
	}
	id := args[0]
	if err := store.Refresh(ctx); err != nil {
		return nil, err
	}
	if err := store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]string{"deleted": id}, nil
}

// describeError は分類済みの失敗をユーザー向けの文言に置き換える。
func describeError(err error) error {
	var apiErr *model.APIError
	if re, ok := retry.AsError(err); ok {
		return fmt.Errorf("%s %s (code=%s, attempts=%d)",
			re.Classified.Message, re.Classified.RecoveryLabel, re.Classified.Code, re.Attempts)
	}
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s %s", apiErr.Message, apiErr.Action)
	}
	return err
}
