package render

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/killallgit/threadline/pkg/search"
	"github.com/killallgit/threadline/pkg/threads"
)

// ThreadList writes the thread listing as a table, most recent first
func (f *Formatter) ThreadList(writer io.Writer, infos []threads.ThreadInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(writer, "No threads found")
		return nil
	}

	w := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tMESSAGES\tUPDATED\tSTATUS")

	for _, info := range infos {
		marker := " "
		if info.Active {
			marker = "*"
		}

		status := string(info.Status)
		if !info.Synced {
			status += " (unsaved)"
		}

		fmt.Fprintf(w, "%s %s\t%s\t%d\t%s\t%s\n",
			marker,
			info.ID,
			info.Title,
			info.MessageCount,
			info.UpdatedAt.Local().Format(time.DateTime),
			status)
	}

	return w.Flush()
}

// SearchHits writes search results, best match first
func (f *Formatter) SearchHits(writer io.Writer, hits []search.Hit) error {
	if len(hits) == 0 {
		fmt.Fprintln(writer, "No matching threads")
		return nil
	}

	w := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSCORE\tMATCH")

	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s: %s\n", h.ThreadID, h.Title, h.Score, h.Role, h.Snippet)
	}

	return w.Flush()
}
