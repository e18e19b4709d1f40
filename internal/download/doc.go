package download

// Package download implements source acquisition. Two backends share one
// contract: a site extractor built on yt-dlp (via github.com/lrstanley/go-ytdlp)
// for recognized hosts, and a generic HTTP streaming fetch. Acquirer tries them
// in a fixed order with a metadata-only dry run gating the extractor.
