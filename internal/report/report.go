// Package report collects per-host, per-user outcomes of a provisioning run
// and renders them for the operator.
//
// Reports carry plaintext passwords. Write them only to the terminal or to
// files readable by the operator alone.
package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusExists  Status = "exists"
	StatusUpdated Status = "updated"
	StatusDeleted Status = "deleted"
	StatusMissing Status = "missing"
	StatusPresent Status = "present"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusPlanned is a change that a dry run would have made.
	StatusPlanned Status = "planned"
)

// Entry is the outcome for one user on one host.
type Entry struct {
	Host     string
	FullName string
	Username string
	Password string
	Status   Status
	Detail   string
}

// Report is safe for concurrent Add calls.
type Report struct {
	Title string

	mu      sync.Mutex
	entries []Entry
	hosts   []string
}

func New(title string) *Report {
	return &Report{Title: title}
}

func (r *Report) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	for _, h := range r.hosts {
		if h == e.Host {
			return
		}
	}
	r.hosts = append(r.hosts, e.Host)
}

// Entries returns entries grouped by host in first-seen host order, each
// group in insertion order.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := map[string]int{}
	for i, h := range r.hosts {
		order[h] = i
	}
	out := append([]Entry(nil), r.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return order[out[i].Host] < order[out[j].Host]
	})
	return out
}

// Failed reports whether any entry failed.
func (r *Report) Failed() bool {
	return r.Count(StatusFailed) > 0
}

func (r *Report) Count(s Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

func byHost(entries []Entry) ([]string, map[string][]Entry) {
	var hosts []string
	groups := map[string][]Entry{}
	for _, e := range entries {
		if _, ok := groups[e.Host]; !ok {
			hosts = append(hosts, e.Host)
		}
		groups[e.Host] = append(groups[e.Host], e)
	}
	return hosts, groups
}

// WriteText prints one block per host with the credentials of every
// account, for the terminal.
func (r *Report) WriteText(w io.Writer) error {
	hosts, groups := byHost(r.Entries())
	var buf bytes.Buffer
	for _, h := range hosts {
		fmt.Fprintf(&buf, "\nUsers for %s\n", h)
		tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tUSER\tPASSWORD\tSTATUS\tDETAIL")
		for _, e := range groups[h] {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.FullName, e.Username, dash(e.Password), e.Status, dash(e.Detail))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Markdown renders the report as one table per host.
func (r *Report) Markdown() string {
	hosts, groups := byHost(r.Entries())
	var b strings.Builder
	title := r.Title
	if title == "" {
		title = "Provisioning report"
	}
	fmt.Fprintf(&b, "# %s\n", mdEscape(title))
	for _, h := range hosts {
		fmt.Fprintf(&b, "\n## %s\n\n", mdEscape(h))
		b.WriteString("| Name | User | Password | Status | Detail |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, e := range groups[h] {
			pw := ""
			if e.Password != "" {
				pw = mdCode(e.Password)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				mdEscape(e.FullName), mdEscape(e.Username), pw, e.Status, mdEscape(e.Detail))
		}
	}
	return b.String()
}

// HTML renders Markdown with goldmark.
func (r *Report) HTML() (string, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert([]byte(r.Markdown()), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var mdReplacer = strings.NewReplacer("\\", `\\`, "|", `\|`, "\n", " ", "<", "&lt;", ">", "&gt;", "*", `\*`, "_", `\_`, "`", "\\`")

func mdEscape(s string) string {
	return mdReplacer.Replace(s)
}

// mdCode wraps s in a code span that survives backticks and table pipes.
func mdCode(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	if strings.Contains(s, "`") {
		return "`` " + s + " ``"
	}
	return "`" + s + "`"
}
