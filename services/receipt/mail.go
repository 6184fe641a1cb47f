package receiptsvc

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
)

// NewEmail builds the message carrying the receipt PDF to `to`.
func (r *Renderer) NewEmail(rcpt ledger.Receipt, to mail.Address) (*core.EmailMessage, error) {
	var pdf bytes.Buffer
	if err := r.Write(&pdf, rcpt); err != nil {
		return nil, err
	}

	var body strings.Builder
	_, _ = fmt.Fprintf(&body, "Dear %s,\n\n", rcpt.Student.Name)
	_, _ = fmt.Fprintf(&body, "We received your payment of %s (%s) on %s.\n",
		r.money(rcpt.Payment.Amount), rcpt.Payment.Mode, rcpt.Payment.Date.Format(ledger.DateLayout))
	_, _ = fmt.Fprintf(&body, "Receipt No: %d\nTotal Paid: %s\nRemaining Fee Due: %s\n\n",
		rcpt.Payment.ReceiptNo, r.money(rcpt.TotalPaid), r.money(rcpt.TotalDue))
	body.WriteString("The receipt is attached.\n")
	if r.conf.Institution != "" {
		body.WriteString("\n" + r.conf.Institution + "\n")
	}

	msg := &core.EmailMessage{
		To:      []mail.Address{to},
		Subject: fmt.Sprintf("Fee receipt #%d", rcpt.Payment.ReceiptNo),
		BodyStr: body.String(),
	}
	if err := msg.Attach(&pdf, rcpt.Filename("pdf"), "application/pdf"); err != nil {
		return nil, errors.Wrap(err, "attaching receipt")
	}
	return msg, nil
}
