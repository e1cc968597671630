package processor

import (
	"context"
	"path/filepath"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
)

// OutgoingRequest is the outbound pipeline's input (spec.md §4.5).
type OutgoingRequest struct {
	UserID             string
	Kind               store.Kind
	Body               string
	TempID             string
	Caption            string
	Price              string
	ReplyTo            string
	MediaLocalPath     string
	MediaPublicURL     string
	MediaMimeType      string
	Buttons            []upstream.Button
	Sections           []upstream.ListSection
	CatalogID          string
	ProductIdentifiers *store.ProductIdentifiers
}

// ProcessOutgoing runs the optimistic outbound pipeline: upsert the
// user, stamp an optimistic record, fan it out and cache it, schedule
// the background dispatch, and return the optimistic record
// immediately (spec.md §4.5, property 3).
func (p *Processor) ProcessOutgoing(ctx context.Context, req OutgoingRequest) (*store.Message, error) {
	if req.UserID == "" {
		return nil, store.ErrMissingUserID
	}
	if _, err := p.db.UpsertUser(ctx, &store.User{UserID: req.UserID}); err != nil {
		return nil, err
	}

	tempID := req.TempID
	if tempID == "" {
		tempID = newTempID()
	}
	ts := nowISO()

	msg := &store.Message{
		UserID:             req.UserID,
		TempID:             tempID,
		Kind:               req.Kind,
		Body:               req.Body,
		Caption:            req.Caption,
		Price:              req.Price,
		FromAgent:          true,
		ReplyToUpstreamID:  req.ReplyTo,
		MediaLocalPath:     req.MediaLocalPath,
		MediaPublicURL:     req.MediaPublicURL,
		ProductIdentifiers: req.ProductIdentifiers,
		ClientTS:           ts,
		ServerTS:           ts,
	}

	if isInternalChannel(req.UserID) {
		// Internal channels never touch the upstream; they are marked
		// sent immediately and broadcast to admins (spec.md §4.5).
		msg.Status = store.StatusSent
		saved, err := p.db.UpsertMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		p.emit(ctx, req.UserID, EventMessageSent, saved)
		p.broadcastAdmins(ctx, req.UserID, EventMessageSent, saved)
		p.cache(ctx, req.UserID, saved)
		return saved, nil
	}

	msg.Status = store.StatusSending
	if req.MediaLocalPath != "" && req.MediaPublicURL == "" {
		msg.MediaPublicURL = mediaFallbackURL(p.cfg.PublicBaseURL, filepath.Base(req.MediaLocalPath))
	}

	saved, err := p.db.UpsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	p.emit(ctx, req.UserID, EventMessageSent, saved)
	p.cache(ctx, req.UserID, saved)

	job := dispatchJob{
		Message:       saved,
		Buttons:       req.Buttons,
		Sections:      req.Sections,
		CatalogID:     req.CatalogID,
		MediaMimeType: req.MediaMimeType,
	}
	go p.dispatch(context.Background(), job)

	return saved, nil
}
