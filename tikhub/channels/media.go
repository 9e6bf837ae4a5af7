package channels

import (
	"fmt"

	"github.com/wxget/wxdlp/errs"
	"github.com/wxget/wxdlp/types"
)

// MediaDescriptor binds the download URL parts and the decode key extracted
// from exactly one video record. The fields are unexported so a descriptor can
// only be assembled by Locate, never stitched together from separate fetches;
// the remote side rotates url_token and decode_key per response and mixing
// them yields an undecryptable file.
type MediaDescriptor struct {
	url       string
	urlToken  string
	decodeKey string
}

// URL returns the base media URL.
func (d MediaDescriptor) URL() string { return d.url }

// URLToken returns the access token appended to the base URL.
func (d MediaDescriptor) URLToken() string { return d.urlToken }

// DecodeKey returns the key submitted to the keystream service.
func (d MediaDescriptor) DecodeKey() string { return d.decodeKey }

// DownloadURL returns url + url_token, the only form the CDN accepts.
func (d MediaDescriptor) DownloadURL() string { return d.url + d.urlToken }

// Locate extracts the media descriptor from a video record. A record missing
// any of url, url_token or decode_key is rejected whole; partial descriptors
// never travel downstream.
func Locate(rec types.VideoRecord) (MediaDescriptor, error) {
	media := rec.ObjectDesc.Media
	if len(media) == 0 {
		return MediaDescriptor{}, fmt.Errorf("%w: video %s has no media entries", errs.ErrMalformedMedia, rec.ID)
	}

	m := media[0]
	if m.URL == "" {
		return MediaDescriptor{}, fmt.Errorf("%w: video %s missing url", errs.ErrMalformedMedia, rec.ID)
	}
	if m.URLToken == "" {
		return MediaDescriptor{}, fmt.Errorf("%w: video %s missing url_token", errs.ErrMalformedMedia, rec.ID)
	}
	if m.DecodeKey == "" {
		return MediaDescriptor{}, fmt.Errorf("%w: video %s missing decode_key", errs.ErrMalformedMedia, rec.ID)
	}

	return MediaDescriptor{
		url:       m.URL,
		urlToken:  m.URLToken,
		decodeKey: string(m.DecodeKey),
	}, nil
}

// Latest returns the record with the most recent createtime. Records without
// a timestamp sort last. ok is false for an empty collection.
func Latest(videos []types.VideoRecord) (types.VideoRecord, bool) {
	if len(videos) == 0 {
		return types.VideoRecord{}, false
	}
	latest := videos[0]
	for _, v := range videos[1:] {
		if v.CreateTime > latest.CreateTime {
			latest = v
		}
	}
	return latest, true
}

// FindByID returns the record with the given id, if present.
func FindByID(videos []types.VideoRecord, id string) (types.VideoRecord, bool) {
	for _, v := range videos {
		if string(v.ID) == id {
			return v, true
		}
	}
	return types.VideoRecord{}, false
}
