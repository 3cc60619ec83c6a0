package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/session"
	"github.com/zeusync/scenesync/internal/core/snapshot"
)

const help = `Commands:
    rect | circle | text          add a shape
    draw x1,y1 x2,y2 ...          add a pen stroke
    select <id>...                select objects
    fill <color>                  set the fill colour
    width <n>                     set the stroke width
    drag <id> <x> <y>             move an object and settle it
    delete                        delete the selection
    lock | unlock                 lock the selection, unlock everything
    snap on|off                   toggle grid snapping
    undo | redo                   step through history
    flush                         save now
    show                          list objects
    quit                          save and exit`

// editor maps line commands onto a scene and its session.
type editor struct {
	session *session.Session
	scene   *scene.Scene
	out     io.Writer
}

func newEditor(s *session.Session, sc *scene.Scene, out io.Writer) *editor {
	return &editor{session: s, scene: sc, out: out}
}

func (e *editor) prompt() {
	mode := "edit"
	if e.session.ViewOnly() {
		mode = "view"
	}
	fmt.Fprintf(e.out, "%s [%s]> ", e.session.SceneID(), mode)
}

// exec runs one command line and reports whether the editor should exit.
func (e *editor) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(e.out, help)
	case "rect", "circle", "text":
		if id, ok := e.scene.AddShape(snapshot.Kind(cmd)); ok {
			fmt.Fprintln(e.out, "added", id)
		} else {
			e.readOnly()
		}
	case "draw":
		points, err := parsePoints(args)
		if err != nil {
			fmt.Fprintln(e.out, "error:", err)
			return false
		}
		e.scene.SetDrawing(true)
		id, ok := e.scene.AddStroke(points)
		e.scene.SetDrawing(false)
		if ok {
			fmt.Fprintln(e.out, "added", id)
		} else {
			e.readOnly()
		}
	case "select":
		if !e.scene.Select(args...) {
			fmt.Fprintln(e.out, "error: unknown object")
		}
	case "fill":
		if len(args) != 1 {
			fmt.Fprintln(e.out, "usage: fill <color>")
			return false
		}
		e.report(e.scene.SetFill(args[0]), "recoloured")
	case "width":
		w, err := parseFloat(args, 0)
		if err != nil {
			fmt.Fprintln(e.out, "usage: width <n>")
			return false
		}
		e.report(e.scene.SetStrokeWidth(w), "restyled")
	case "drag":
		if len(args) != 3 {
			fmt.Fprintln(e.out, "usage: drag <id> <x> <y>")
			return false
		}
		x, errX := parseFloat(args, 1)
		y, errY := parseFloat(args, 2)
		if errX != nil || errY != nil {
			fmt.Fprintln(e.out, "usage: drag <id> <x> <y>")
			return false
		}
		if e.scene.DragTo(args[0], x, y) {
			e.scene.EndDrag(args[0])
		} else {
			fmt.Fprintln(e.out, "not moved")
		}
	case "delete":
		e.report(e.scene.DeleteSelected(), "deleted")
	case "lock":
		e.report(e.scene.LockSelected(), "locked")
	case "unlock":
		e.report(e.scene.UnlockAll(), "unlocked")
	case "snap":
		e.scene.SetSnap(len(args) == 0 || args[0] != "off")
	case "undo":
		e.step(e.session.Undo)
	case "redo":
		e.step(e.session.Redo)
	case "flush":
		if err := e.session.Flush(ctx); err != nil {
			fmt.Fprintln(e.out, "error:", err)
		}
	case "show":
		e.show()
	case "quit", "exit":
		if err := e.session.Flush(ctx); err != nil {
			fmt.Fprintln(e.out, "error:", err)
		}
		return true
	default:
		fmt.Fprintf(e.out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func (e *editor) step(move func() (bool, error)) {
	ok, err := move()
	switch {
	case err != nil:
		fmt.Fprintln(e.out, "error:", err)
	case !ok:
		fmt.Fprintln(e.out, "nothing to do")
	}
}

func (e *editor) report(n int, verb string) {
	if e.scene.ReadOnly() {
		e.readOnly()
		return
	}
	fmt.Fprintf(e.out, "%s %d\n", verb, n)
}

func (e *editor) readOnly() {
	fmt.Fprintln(e.out, "scene is read-only")
}

func (e *editor) show() {
	selected := make(map[string]bool)
	for _, id := range e.scene.Selection() {
		selected[id] = true
	}
	objects := e.scene.Objects()
	if len(objects) == 0 {
		fmt.Fprintln(e.out, "(empty)")
	}
	for _, o := range objects {
		mark := " "
		if selected[o.ID] {
			mark = "*"
		}
		lock := ""
		if o.Locked() {
			lock = " locked"
		}
		fmt.Fprintf(e.out, "%s %-36s %-6s (%g,%g) %s%s\n", mark, o.ID, o.Type, o.Left, o.Top, o.Fill, lock)
	}
	fmt.Fprintf(e.out, "undo=%t redo=%t pending=%t\n", e.session.CanUndo(), e.session.CanRedo(), e.session.SavePending())
}

func parseFloat(args []string, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return strconv.ParseFloat(args[i], 64)
}

func parsePoints(args []string) ([]snapshot.Point, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("a stroke needs at least two points")
	}
	points := make([]snapshot.Point, 0, len(args))
	for _, a := range args {
		xs, ys, ok := strings.Cut(a, ",")
		if !ok {
			return nil, fmt.Errorf("bad point %q", a)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("bad point %q", a)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("bad point %q", a)
		}
		points = append(points, snapshot.Point{X: x, Y: y})
	}
	return points, nil
}

// printEvent prints session events as they are published.
func printEvent(out io.Writer) bus.EventHandler {
	return func(ev bus.Event) error {
		switch data := ev.Data().(type) {
		case session.SaveResult:
			if data.Err != nil {
				fmt.Fprintf(out, "\n[%s] %v\n", ev.Type(), data.Err)
				return nil
			}
			fmt.Fprintf(out, "\n[%s] %016x\n", ev.Type(), data.Digest)
		case session.RemoteApplied:
			fmt.Fprintf(out, "\n[%s] revision %d\n", ev.Type(), data.Revision)
		case session.RemoteDiscarded:
			fmt.Fprintf(out, "\n[%s] %s\n", ev.Type(), data.Reason)
		case session.HistoryState:
			// Shown by "show".
		default:
			fmt.Fprintf(out, "\n[%s]\n", ev.Type())
		}
		return nil
	}
}
