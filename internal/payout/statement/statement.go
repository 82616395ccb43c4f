// Package statement renders organizer payout statements.
package statement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrRender = errors.New("statement_render_failed")

// Data carries amounts in minor currency units.
type Data struct {
	RaffleID         string
	Title            string
	OrganizerID      string
	PayoutID         string
	Currency         string
	TicketPrice      int64
	TotalTickets     int64
	GrossAmount      int64
	CommissionBps    int64
	CommissionAmount int64
	ProviderFeeTotal int64
	NetAmount        int64
	SettledAt        time.Time
}

func Render(data Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payout statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.SettledAt.UTC().Format("2006-01-02"), props.Text{Align: align.Right, Top: 4}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New(data.Title, props.Text{Style: fontstyle.Bold}),
			text.New("Raffle: "+data.RaffleID, props.Text{Top: 5}),
			text.New("Organizer: "+data.OrganizerID, props.Text{Top: 9}),
		),
		col.New(6).Add(
			text.New("Payout: "+data.PayoutID, props.Text{Align: align.Right}),
			text.New(fmt.Sprintf("%d tickets at %s", data.TotalTickets, Money(data.TicketPrice, data.Currency)), props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	lines := []struct {
		label  string
		amount string
	}{
		{"Gross ticket sales", Money(data.GrossAmount, data.Currency)},
		{fmt.Sprintf("Platform commission (%s)", percent(data.CommissionBps)), "-" + Money(data.CommissionAmount, data.Currency)},
		{"Payment provider fees", "-" + Money(data.ProviderFeeTotal, data.Currency)},
	}
	for _, l := range lines {
		m.AddRow(8,
			text.NewCol(8, l.label, props.Text{Size: 9}),
			text.NewCol(4, l.amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(12,
		col.New(6),
		text.NewCol(2, "Net payout", props.Text{Size: 10, Style: fontstyle.Bold, Top: 3}),
		text.NewCol(4, Money(data.NetAmount, data.Currency), props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right, Top: 3}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// Money formats minor units with two decimals.
func Money(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, strings.ToUpper(currency))
}

func percent(bps int64) string {
	return fmt.Sprintf("%d.%02d%%", bps/100, bps%100)
}
