package meta

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/inmopost/inmopost/internal/models"
	"github.com/inmopost/inmopost/internal/service/publisher"
)

// FacebookFeedPublisher posts to a Facebook Page feed: plain text, a
// single photo, or several photos uploaded unpublished and attached to
// one post.
type FacebookFeedPublisher struct {
	client *Client
}

func NewFacebookFeedPublisher(client *Client) *FacebookFeedPublisher {
	return &FacebookFeedPublisher{client: client}
}

func (p *FacebookFeedPublisher) Platform() models.PublicationPlatform {
	return models.PlatformFacebookFeed
}

func (p *FacebookFeedPublisher) Publish(ctx context.Context, job *models.PublicationJob, conn *models.MetaConnection) (*publisher.Result, error) {
	token := conn.PageAccessToken
	if token == "" || conn.FacebookPageID == "" {
		return nil, errors.New("Facebook Page no está configurado")
	}

	pageID := conn.FacebookPageID

	if len(job.MediaURLs) == 0 {
		// Text-only post
		var post idResponse
		err := p.client.call(ctx, http.MethodPost, pageID+"/feed", token, map[string]interface{}{
			"message": job.Caption,
		}, &post)
		if err != nil {
			return nil, err
		}
		return &publisher.Result{PostID: post.ID}, nil
	}

	if len(job.MediaURLs) == 1 {
		// Single photo
		var photo struct {
			ID     string `json:"id"`
			PostID string `json:"post_id"`
		}
		err := p.client.call(ctx, http.MethodPost, pageID+"/photos", token, map[string]interface{}{
			"url":     job.MediaURLs[0],
			"caption": job.Caption,
		}, &photo)
		if err != nil {
			return nil, err
		}
		postID := photo.PostID
		if postID == "" {
			postID = photo.ID
		}
		return &publisher.Result{PostID: postID, MediaID: photo.ID}, nil
	}

	// Multiple photos: upload unpublished, then attach to a single post.
	urls := job.MediaURLs
	if len(urls) > maxAttachedMedia {
		urls = urls[:maxAttachedMedia]
	}

	photoIDs := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, mediaURL := range urls {
		i, mediaURL := i, mediaURL
		g.Go(func() error {
			var photo idResponse
			err := p.client.call(gctx, http.MethodPost, pageID+"/photos", token, map[string]interface{}{
				"url":       mediaURL,
				"published": false,
			}, &photo)
			if err != nil {
				return err
			}
			photoIDs[i] = photo.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	attached := make([]map[string]string, len(photoIDs))
	for i, id := range photoIDs {
		attached[i] = map[string]string{"media_fbid": id}
	}

	var post idResponse
	err := p.client.call(ctx, http.MethodPost, pageID+"/feed", token, map[string]interface{}{
		"message":        job.Caption,
		"attached_media": attached,
	}, &post)
	if err != nil {
		return nil, err
	}

	return &publisher.Result{PostID: post.ID}, nil
}

// FacebookReelPublisher publishes Page Reels through the three-phase
// video_reels upload session: start, finish with the hosted video URL,
// then publish.
type FacebookReelPublisher struct {
	client *Client
}

func NewFacebookReelPublisher(client *Client) *FacebookReelPublisher {
	return &FacebookReelPublisher{client: client}
}

func (p *FacebookReelPublisher) Platform() models.PublicationPlatform {
	return models.PlatformFacebookReel
}

func (p *FacebookReelPublisher) Publish(ctx context.Context, job *models.PublicationJob, conn *models.MetaConnection) (*publisher.Result, error) {
	token := conn.PageAccessToken
	if token == "" || conn.FacebookPageID == "" {
		return nil, errors.New("Facebook Page no está configurado")
	}
	if len(job.MediaURLs) == 0 {
		return nil, errors.New("No hay video para el Reel")
	}

	pageID := conn.FacebookPageID
	videoURL := job.MediaURLs[0]

	// Step 1: Initialize upload session
	var session struct {
		VideoID string `json:"video_id"`
	}
	err := p.client.call(ctx, http.MethodPost, pageID+"/video_reels", token, map[string]interface{}{
		"upload_phase": "start",
	}, &session)
	if err != nil {
		return nil, err
	}

	// Step 2: Server-to-server upload from the hosted URL
	err = p.client.call(ctx, http.MethodPost, pageID+"/video_reels", token, map[string]interface{}{
		"upload_phase":         "finish",
		"video_id":             session.VideoID,
		"video_file_chunk_url": videoURL,
		"description":          job.Caption,
		"title":                job.Title,
	}, nil)
	if err != nil {
		return nil, err
	}

	// Step 3: Publish
	var published struct {
		PostID string `json:"post_id"`
	}
	err = p.client.call(ctx, http.MethodPost, pageID+"/video_reels", token, map[string]interface{}{
		"upload_phase": "publish",
		"video_id":     session.VideoID,
		"video_state":  "PUBLISHED",
		"description":  job.Caption,
	}, &published)
	if err != nil {
		return nil, err
	}

	postID := published.PostID
	if postID == "" {
		postID = session.VideoID
	}

	return &publisher.Result{PostID: postID, MediaID: session.VideoID}, nil
}
