package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pkt.systems/factorioctl/internal/chatlog"
	"pkt.systems/factorioctl/schema"
)

// savesPerPage is the fixed page size of the interactive browser.
const savesPerPage = 5

type pagination struct {
	index int // first record on the current page, multiple of size
	size  int
	total int
}

func (p pagination) pageCount() int {
	count := p.total - p.index
	if count > p.size {
		count = p.size
	}
	return count
}

// browseSaves runs the paginated restore selection. It terminates only on
// quit, a valid selection or loss of the console.
func (d *Dispatcher) browseSaves(ctx context.Context) error {
	records, err := d.saves.ListRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		d.broadcast("no archived saves to restore")
		return nil
	}
	p := pagination{size: savesPerPage, total: len(records)}
	d.browserUsage()
	for {
		d.renderPage(p, records)
		rerender := false
		for !rerender {
			ev, err := d.nextChatEvent(ctx)
			if err != nil {
				return err
			}
			token := firstToken(ev.Message)
			switch token {
			case "":
				// free-form chat without content, keep waiting
			case "m":
				if p.index+p.size < p.total {
					p.index += p.size
				} else {
					d.broadcast("this is the last page")
				}
				rerender = true
			case "n":
				if p.index-p.size >= 0 {
					p.index -= p.size
				} else {
					d.broadcast("this is the first page")
				}
				rerender = true
			case "q":
				d.broadcast("leaving save recovery, nothing restored")
				return nil
			default:
				if sel, err := strconv.Atoi(token); err == nil {
					if sel < 1 || sel > p.pageCount() {
						d.broadcast("invalid file number")
						continue
					}
					return d.saves.RestoreRecord(ctx, records[p.index+sel-1])
				}
				d.broadcast("you are currently in save recover mode")
				d.browserUsage()
				rerender = true
			}
		}
	}
}

// nextChatEvent reads console lines until one parses as a chat event.
func (d *Dispatcher) nextChatEvent(ctx context.Context) (schema.ChatEvent, error) {
	for {
		line, err := d.console.ReadServerLine(ctx)
		if err != nil {
			return schema.ChatEvent{}, err
		}
		ev, ok := chatlog.Parse(line)
		if !ok || ev.Kind != schema.KindChat {
			continue
		}
		return ev, nil
	}
}

func (d *Dispatcher) browserUsage() {
	d.broadcast("choose the save you wish to recover")
	d.broadcast("enter the index to choose a save file, n for previous page, m for next page, or q to quit")
}

func (d *Dispatcher) renderPage(p pagination, records []schema.SaveRecord) {
	for i := 0; i < p.pageCount(); i++ {
		rec := records[p.index+i]
		d.broadcast(fmt.Sprintf("%d: %s %s (by %s)",
			i+1, rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Label, rec.Author))
	}
}

func firstToken(message string) string {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
