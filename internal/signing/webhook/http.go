package webhook

import (
	"context"
	"io"
	"net/http"
)

const defaultAck = "ok"

// HTTPHandler adapts the processor to a provider callback endpoint. Every
// outcome except a rejected signature answers 200 so providers do not
// redeliver events the service already logged and alerted on.
func (p *Processor) HTTPHandler(providerName func(*http.Request) string, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := providerName(r)
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			p.log.Warn("Webhook body not readable", map[string]interface{}{"provider": name, "error": err.Error()})
			p.reply(w, name, http.StatusOK)
			return
		}

		// A provider hanging up must not abort an upload halfway.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), p.timeout)
		defer cancel()

		res := p.HandleDelivery(ctx, name, r.Header, body)
		if IsRejected(res) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		p.reply(w, name, http.StatusOK)
	}
}

func (p *Processor) reply(w http.ResponseWriter, providerName string, status int) {
	ack := defaultAck
	if v, ok := p.providers.Verifier(providerName); ok && v.Acknowledgement() != "" {
		ack = v.Acknowledgement()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, ack)
}
