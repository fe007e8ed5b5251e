package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/danmuck/peerctl/internal/peer"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

var (
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	kindStyle    = lipgloss.NewStyle().Width(13).Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379"))
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
)

// renderer writes one line per inbound message; calls from several peers
// are serialized.
type renderer struct {
	mu    sync.Mutex
	out   io.Writer
	names map[peer.ID]string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, names: make(map[peer.ID]string)}
}

func (r *renderer) name(id peer.ID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[id] = name
}

func (r *renderer) inbound(in peer.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := r.names[in.Peer]
	if label == "" {
		label = in.Peer.String()
	}
	head := peerStyle.Render(fmt.Sprintf("[%s #%d]", label, in.Seq))

	if in.Err != nil {
		fmt.Fprintf(r.out, "%s %s %s\n", head, kindStyle.Render("undecodable"), errorStyle.Render(in.Err.Error()))
		return
	}

	body := string(in.Line)
	style := lipgloss.NewStyle()
	switch in.Message.Kind() {
	case jsonrpc.KindError:
		style = errorStyle
	case jsonrpc.KindResponse:
		style = successStyle
	case jsonrpc.KindNotification:
		style = noteStyle
	}
	fmt.Fprintf(r.out, "%s %s %s\n", head, kindStyle.Render(in.Message.Kind().String()), style.Render(body))
}

func (r *renderer) exit(exit peer.Exit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	label := r.names[exit.Peer]
	if label == "" {
		label = exit.Peer.String()
	}
	msg := fmt.Sprintf("output closed state=%s", exit.State)
	if exit.Err != nil {
		msg += " err=" + exit.Err.Error()
	}
	if exit.Status != nil {
		msg += " status=" + exit.Status.Error()
	}
	fmt.Fprintf(r.out, "%s %s\n", peerStyle.Render("["+label+"]"), errorStyle.Render(msg))
}
