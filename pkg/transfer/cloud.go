// USB Defender Core
// Copyright (c) 2026 The USB Defender Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of USB Defender Core.
//
// USB Defender Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// USB Defender Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with USB Defender Core.  If not, see <http://www.gnu.org/licenses/>.

package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// CloudSink delivers artifacts to an S3-compatible object store.
type CloudSink struct {
	client *minio.Client
	bucket string
	prefix string
	info   string
}

func NewCloudSink(cfg config.CloudTarget) (*CloudSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &CloudSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		info:   fmt.Sprintf("s3://%s/%s", cfg.Endpoint, cfg.Bucket),
	}, nil
}

func (s *CloudSink) Deliver(ctx context.Context, sessionID string, artifacts []Artifact) []Result {
	results := make([]Result, 0, len(artifacts))

	for _, artifact := range artifacts {
		object := path.Join(s.prefix, sessionID, artifact.RelPath)
		result := Result{
			Artifact:    artifact,
			Destination: fmt.Sprintf("%s/%s", s.info, object),
		}

		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("delivery cancelled: %w", err)
			results = append(results, result)
			continue
		}

		_, err := s.client.FPutObject(ctx, s.bucket, object, artifact.SourcePath,
			minio.PutObjectOptions{ContentType: contentTypeFor(artifact.RelPath)})
		if err != nil {
			result.Err = fmt.Errorf("failed to upload object: %w", err)
		} else {
			log.Debug().Str("destination", result.Destination).Msg("artifact delivered to object store")
		}
		results = append(results, result)
	}
	return results
}

func (s *CloudSink) Test(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *CloudSink) DestinationInfo() string {
	return s.info
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
