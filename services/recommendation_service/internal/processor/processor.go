package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cropguard/recommendation/services/recommendation_service/internal/config"
)

type errorReply struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// Processor serves recommendation requests arriving over NATS. Requests that
// carry a reply subject are answered directly; the rest are published to the
// advisories subject.
type Processor struct {
	cfg     *config.Config
	nc      *nats.Conn
	advisor *Advisor
}

func New(cfg *config.Config, advisor *Advisor) (*Processor, error) {
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Processor{cfg: cfg, nc: nc, advisor: advisor}, nil
}

func (p *Processor) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *Processor) Start(ctx context.Context) error {
	_, err := p.nc.QueueSubscribe(p.cfg.NATS.SubjectRequests, p.cfg.NATS.QueueGroup, p.handleRequest)
	if err != nil {
		return err
	}

	if err := p.nc.Flush(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		p.Close()
	}()

	log.Printf("listening for recommendation requests on %s", p.cfg.NATS.SubjectRequests)
	return nil
}

func (p *Processor) handleRequest(msg *nats.Msg) {
	payload := p.process(msg.Data)

	if msg.Reply != "" {
		if err := msg.Respond(payload); err != nil {
			log.Printf("respond advisory: %v", err)
		}
		return
	}
	if err := p.nc.Publish(p.cfg.NATS.SubjectAdvisories, payload); err != nil {
		log.Printf("publish advisory: %v", err)
	}
}

// process turns a request payload into an advisory or error payload.
func (p *Processor) process(data []byte) []byte {
	start := time.Now()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		Observe("nats", start, err)
		log.Printf("decode envelope: %v", err)
		return mustMarshal(errorReply{Error: fmt.Sprintf("decode envelope: %v", err)})
	}

	adv, err := p.advisor.Advise(env)
	Observe("nats", start, err)
	if err != nil {
		log.Printf("advise %s: %v", env.RequestID, err)
		return mustMarshal(errorReply{RequestID: env.RequestID, Error: err.Error()})
	}
	return mustMarshal(adv)
}

func mustMarshal(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		payload, _ = json.Marshal(errorReply{Error: fmt.Sprintf("encode reply: %v", err)})
	}
	return payload
}
