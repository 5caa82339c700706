package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// videoExtensions are the containers handed to the video decoder.
var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mkv": true, ".mov": true, ".m4v": true,
	".mpg": true, ".mpeg": true, ".webm": true, ".ts": true,
}

// IsVideoFile reports whether path has a known video extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// discoverVideos expands args into inputs. A file is taken as given. A
// directory contributes its video files; a directory holding no videos but
// still frames is itself one input, replayed as an image sequence.
func discoverVideos(args []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var inputs []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			found, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, found...)
		} else if shouldIncludeFile(arg, includePatterns, excludePatterns) {
			inputs = append(inputs, arg)
		}
	}

	return inputs, nil
}

// discoverInDirectory walks dir for videos, falling back to frame
// directories.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var videos []string
	frameDirs := map[string]bool{}

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case IsVideoFile(path):
			if shouldIncludeFile(path, includePatterns, excludePatterns) {
				videos = append(videos, path)
			}
		case utils.IsSupportedImage(path):
			frameDirs[filepath.Dir(path)] = true
		}
		return nil
	}

	if err := filepath.Walk(dir, walkFn); err != nil {
		return nil, err
	}
	if len(videos) > 0 {
		return videos, nil
	}

	dirs := make([]string, 0, len(frameDirs))
	for d := range frameDirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// shouldIncludeFile determines if a file should be included based on include/exclude patterns.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}

	// If no include patterns, include all (that aren't excluded)
	if len(includePatterns) == 0 {
		return true
	}

	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern checks if a file path matches any of the given patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
