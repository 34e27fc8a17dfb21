package livecounter

import (
	"context"
	"strconv"

	"livecommerce/internal/cache"
)

// MediaConfig is a seller's saved device setup for a broadcast.
type MediaConfig struct {
	CameraID     string `json:"cameraId"`
	MicrophoneID string `json:"microphoneId"`
	CameraOn     bool   `json:"cameraOn"`
	MicrophoneOn bool   `json:"microphoneOn"`
	Volume       int    `json:"volume"`
}

// SaveMediaConfig stores cfg for a day.
func (s *Store) SaveMediaConfig(ctx context.Context, broadcastID, sellerID uint, cfg MediaConfig) error {
	key := cache.MediaConfigKey(broadcastID, sellerID)
	if err := s.rdb.HSet(ctx, key, map[string]interface{}{
		"cameraId":     cfg.CameraID,
		"microphoneId": cfg.MicrophoneID,
		"cameraOn":     strconv.FormatBool(cfg.CameraOn),
		"microphoneOn": strconv.FormatBool(cfg.MicrophoneOn),
		"volume":       strconv.Itoa(cfg.Volume),
	}).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, cache.MediaConfigTTL).Err()
}

// GetMediaConfig returns the saved setup, or false when nothing is stored.
func (s *Store) GetMediaConfig(ctx context.Context, broadcastID, sellerID uint) (MediaConfig, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, cache.MediaConfigKey(broadcastID, sellerID)).Result()
	if err != nil {
		return MediaConfig{}, false, err
	}
	if len(fields) == 0 {
		return MediaConfig{}, false, nil
	}

	cfg := MediaConfig{
		CameraID:     fields["cameraId"],
		MicrophoneID: fields["microphoneId"],
	}
	cfg.CameraOn, _ = strconv.ParseBool(fields["cameraOn"])
	cfg.MicrophoneOn, _ = strconv.ParseBool(fields["microphoneOn"])
	cfg.Volume, _ = strconv.Atoi(fields["volume"])
	return cfg, true, nil
}
