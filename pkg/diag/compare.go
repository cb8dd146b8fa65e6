package diag

import (
	"github.com/sirupsen/logrus"
)

// Comparator logs a Report at Info level, in the same
// structured-field style the rest of this module uses for connection
// lifecycle events.
type Comparator struct {
	log *logrus.Entry
}

// NewComparator builds a Comparator writing through log (or the
// standard logger if nil).
func NewComparator(log *logrus.Entry) *Comparator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Comparator{log: log.WithField("component", "diag")}
}

// Log emits one structured line per Report, side by side.
func (c *Comparator) Log(r Report) {
	c.log.WithFields(logrus.Fields{
		"real_state":        r.Real.State,
		"real_retransmits":  r.Real.Retransmits,
		"real_rtt_us":       r.Real.RTTMicros,
		"real_snd_cwnd":     r.Real.SndCwnd,
		"virtual_state":     r.Virtual.State,
		"virtual_in_flight": r.Virtual.InFlight(),
		"virtual_snd_wnd":   r.Virtual.SndWnd,
		"virtual_rcv_wnd":   r.Virtual.RcvWnd,
	}).Info("tcp_info comparison")
}
