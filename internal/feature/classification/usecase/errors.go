// Package usecase はclassificationフィーチャーのビジネスロジックを実装します。
package usecase

import "errors"

var (
	// ErrEmptyFile is returned when the uploaded file has no content.
	ErrEmptyFile = errors.New("uploaded file is empty")

	// ErrUnsupportedExtension is returned when the filename extension is not in the allow-list.
	ErrUnsupportedExtension = errors.New("unsupported file extension")

	// ErrFileTooLarge is returned when the uploaded file exceeds MaxImageSize.
	ErrFileTooLarge = errors.New("image size exceeds maximum")

	// ErrInference is returned when image decoding or model prediction fails.
	// The wrapped message carries the underlying cause.
	ErrInference = errors.New("inference failed")

	// ErrStorage is returned when the persistence layer fails.
	ErrStorage = errors.New("storage failure")
)
