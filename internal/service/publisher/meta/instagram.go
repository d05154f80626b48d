package meta

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/inmopost/inmopost/internal/models"
	"github.com/inmopost/inmopost/internal/service/publisher"
)

// InstagramFeedPublisher posts still images to an Instagram business
// account: one container for a single image, child containers plus a
// CAROUSEL parent for several.
type InstagramFeedPublisher struct {
	client *Client
}

func NewInstagramFeedPublisher(client *Client) *InstagramFeedPublisher {
	return &InstagramFeedPublisher{client: client}
}

func (p *InstagramFeedPublisher) Platform() models.PublicationPlatform {
	return models.PlatformInstagramFeed
}

func (p *InstagramFeedPublisher) Publish(ctx context.Context, job *models.PublicationJob, conn *models.MetaConnection) (*publisher.Result, error) {
	token := instagramToken(conn)
	if token == "" || conn.InstagramAccountID == "" {
		return nil, errors.New("Instagram no está configurado correctamente")
	}
	if len(job.MediaURLs) == 0 {
		return nil, errors.New("No hay imágenes para publicar")
	}

	account := conn.InstagramAccountID
	var mediaID string

	if len(job.MediaURLs) == 1 {
		// Single image
		var container idResponse
		err := p.client.call(ctx, http.MethodPost, account+"/media", token, map[string]interface{}{
			"image_url": job.MediaURLs[0],
			"caption":   job.Caption,
		}, &container)
		if err != nil {
			return nil, err
		}
		mediaID = container.ID
	} else {
		// Carousel: child containers are created concurrently, then
		// referenced by the parent in their original order.
		urls := job.MediaURLs
		if len(urls) > maxAttachedMedia {
			urls = urls[:maxAttachedMedia]
		}

		childIDs := make([]string, len(urls))
		g, gctx := errgroup.WithContext(ctx)
		for i, mediaURL := range urls {
			i, mediaURL := i, mediaURL
			g.Go(func() error {
				var child idResponse
				err := p.client.call(gctx, http.MethodPost, account+"/media", token, map[string]interface{}{
					"image_url":        mediaURL,
					"is_carousel_item": true,
				}, &child)
				if err != nil {
					return err
				}
				childIDs[i] = child.ID
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var carousel idResponse
		err := p.client.call(ctx, http.MethodPost, account+"/media", token, map[string]interface{}{
			"media_type": "CAROUSEL",
			"children":   strings.Join(childIDs, ","),
			"caption":    job.Caption,
		}, &carousel)
		if err != nil {
			return nil, err
		}
		mediaID = carousel.ID
	}

	// Wait for container to be ready
	if err := p.client.waitForMediaReady(ctx, mediaID, token, p.client.imagePollAttempts, p.client.imagePollInterval); err != nil {
		return nil, err
	}

	var published idResponse
	err := p.client.call(ctx, http.MethodPost, account+"/media_publish", token, map[string]interface{}{
		"creation_id": mediaID,
	}, &published)
	if err != nil {
		return nil, err
	}

	return &publisher.Result{PostID: published.ID, MediaID: mediaID}, nil
}

// InstagramReelPublisher posts short videos as Reels. Reels transcode
// server-side, so the container poll uses the longer video policy.
type InstagramReelPublisher struct {
	client *Client
}

func NewInstagramReelPublisher(client *Client) *InstagramReelPublisher {
	return &InstagramReelPublisher{client: client}
}

func (p *InstagramReelPublisher) Platform() models.PublicationPlatform {
	return models.PlatformInstagramReel
}

func (p *InstagramReelPublisher) Publish(ctx context.Context, job *models.PublicationJob, conn *models.MetaConnection) (*publisher.Result, error) {
	token := instagramToken(conn)
	if token == "" || conn.InstagramAccountID == "" {
		return nil, errors.New("Instagram no está configurado")
	}
	if len(job.MediaURLs) == 0 {
		return nil, errors.New("No hay video para el Reel")
	}

	account := conn.InstagramAccountID

	var container idResponse
	err := p.client.call(ctx, http.MethodPost, account+"/media", token, map[string]interface{}{
		"media_type":    "REELS",
		"video_url":     job.MediaURLs[0],
		"caption":       job.Caption,
		"share_to_feed": true,
	}, &container)
	if err != nil {
		return nil, err
	}

	if err := p.client.waitForMediaReady(ctx, container.ID, token, p.client.videoPollAttempts, p.client.videoPollInterval); err != nil {
		return nil, err
	}

	var published idResponse
	err = p.client.call(ctx, http.MethodPost, account+"/media_publish", token, map[string]interface{}{
		"creation_id": container.ID,
	}, &published)
	if err != nil {
		return nil, err
	}

	return &publisher.Result{PostID: published.ID, MediaID: container.ID}, nil
}

// instagramToken prefers the Instagram-scoped token and falls back to
// the page token.
func instagramToken(conn *models.MetaConnection) string {
	if conn.InstagramAccessToken != "" {
		return conn.InstagramAccessToken
	}
	return conn.PageAccessToken
}
