package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
)

// getSecret is swapped in tests to avoid touching the terminal.
var getSecret = GetSecret

func (a *App) isAuthorized(ctx context.Context) bool {
	cred, err := a.creds.Current(ctx)
	return err == nil && cred != ""
}

// Authorize stores the participant credential given as argument or typed
// at a hidden prompt.
func (a *App) Authorize(ctx context.Context, args []string) error {
	if a.auth == nil {
		return fmt.Errorf("credential is read from %s", a.cfg.CredentialFile)
	}

	cred := strings.Join(args, " ")
	if cred == "" {
		var err error
		if cred, err = getSecret(a.out, "Enter credential"); err != nil {
			return err
		}
	}
	if cred == "" {
		return usage("authorize <credential>")
	}

	if err := a.auth.Authorize(ctx, cred); err != nil {
		return err
	}
	printlnFn("Authorized.")
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if a.auth == nil {
		return fmt.Errorf("credential is read from %s", a.cfg.CredentialFile)
	}
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	printlnFn("Logged out, uploads paused.")
	return nil
}

func (a *App) AddThing(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("addthing <label>")
	}
	t, err := a.collection.AddThing(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Added thing %d.", t.ID))
	return nil
}

func (a *App) AddVideo(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usage("addvideo <thing id> <T|Z|P> <file>")
	}
	thingID, err := parseID(args[0])
	if err != nil {
		return err
	}
	v, err := a.collection.AddVideo(ctx, thingID, models.Technique(strings.ToUpper(args[1])), args[2])
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Added video %d.", v.ID))
	return nil
}

func (a *App) List(ctx context.Context) error {
	views, err := a.collection.List(ctx)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		printlnFn("Nothing recorded yet.")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, view := range views {
		t := view.Thing
		label := t.LabelParticipant
		if t.LabelValidated != "" && t.LabelValidated != label {
			label += " (" + t.LabelValidated + ")"
		}
		rows = append(rows, []string{"thing", id(t.ID), "", label, remote(t.RemoteID)})
		for _, v := range view.Videos {
			rows = append(rows, []string{"video", id(v.ID), id(t.ID), string(v.Technique), remote(v.RemoteID)})
		}
	}
	printTable(a.out, []string{"Kind", "ID", "Thing", "Detail", "Remote"}, rows)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("delete <thing id>")
	}
	thingID, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.collection.DeleteThing(ctx, thingID); err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Deleted thing %d.", thingID))
	return nil
}

func (a *App) DeleteVideo(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("deletevideo <video id>")
	}
	videoID, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.collection.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Deleted video %d.", videoID))
	return nil
}

func (a *App) Rerecord(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("rerecord <video id> <file>")
	}
	videoID, err := parseID(args[0])
	if err != nil {
		return err
	}
	if _, err := a.collection.Rerecord(ctx, videoID, args[1]); err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Replaced video %d, it will be uploaded again.", videoID))
	return nil
}

// Status prints the tracked transfers.
func (a *App) Status(ctx context.Context) error {
	st, err := a.coord.Status(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Authorized: %t, transfers: %d, pending deletions: %d, unresolved: %d",
		st.Authorized, len(st.Transfers), len(st.PendingDeletions), len(st.Unresolved)))
	if len(st.Transfers) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(st.Transfers))
	for _, t := range st.Transfers {
		rows = append(rows, []string{t.Session, strconv.FormatInt(int64(t.Task), 10), string(t.Kind), id(t.LocalID)})
	}
	printTable(a.out, []string{"Session", "Task", "Kind", "Local ID"}, rows)
	return nil
}

// Pending prints the remote deletions not yet confirmed and the uploads
// that need manual reconciliation.
func (a *App) Pending(ctx context.Context) error {
	st, err := a.coord.Status(ctx)
	if err != nil {
		return err
	}
	if len(st.PendingDeletions) == 0 && len(st.Unresolved) == 0 {
		printlnFn("Nothing pending.")
		return nil
	}

	rows := make([][]string, 0, len(st.PendingDeletions)+len(st.Unresolved))
	for _, loc := range st.PendingDeletions {
		rows = append(rows, []string{"delete", loc})
	}
	for _, u := range st.Unresolved {
		rows = append(rows, []string{"unresolved", u})
	}
	printTable(a.out, []string{"Action", "Target"}, rows)
	return nil
}

// Refresh pulls validated labels from the server.
func (a *App) Refresh(ctx context.Context) error {
	cred, err := a.creds.Current(ctx)
	if err != nil {
		return err
	}
	if cred == "" {
		return errors.New("not authorized")
	}
	n, err := a.collection.RefreshStatus(ctx, cred)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Updated %d thing(s).", n))
	return nil
}

// Forget clears the unresolved mark of an upload so the next sweep
// submits it again.
func (a *App) Forget(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("forget <kind/id>")
	}
	kind, rawID, ok := strings.Cut(args[0], "/")
	if !ok || !slices.Contains(models.Kinds, models.Kind(kind)) {
		return usage("forget <kind/id>")
	}
	localID, err := parseID(rawID)
	if err != nil {
		return err
	}
	a.coord.Forget(models.Kind(kind), localID)
	printlnFn(fmt.Sprintf("Forgot %s.", args[0]))
	return nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func remote(p *int64) string {
	if p == nil {
		return "pending"
	}
	return id(*p)
}
