package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inmopost/inmopost/internal/config"
	"github.com/inmopost/inmopost/internal/service/publisher"
	"github.com/inmopost/inmopost/internal/service/publisher/meta"
)

// NewMetaPublishers builds the closed set of Meta platform adapters over
// one shared Graph client.
func NewMetaPublishers(cfg *config.MetaConfig, logger *zap.Logger) []publisher.Publisher {
	client := meta.NewClient(cfg.GraphURL, cfg.APIVersion, logger)
	return []publisher.Publisher{
		meta.NewInstagramFeedPublisher(client),
		meta.NewInstagramReelPublisher(client),
		meta.NewFacebookFeedPublisher(client),
		meta.NewFacebookReelPublisher(client),
	}
}

// NewPublicationWorker wires the gorm store, connection resolver and
// platform publishers into a ready worker. Shared by the HTTP server and
// the one-shot CLI pass.
func NewPublicationWorker(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Worker, error) {
	store := NewStore(db)
	resolver := NewConnectionResolver(db)
	publishers := NewMetaPublishers(&cfg.Meta, logger)
	return NewWorker(&cfg.Worker, store, resolver, publishers, logger)
}
