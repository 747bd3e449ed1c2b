// Package scraper walks the photo feed through a Page and produces the list
// of images to archive.
//
// A Traverser sweeps the cards currently rendered, skips the ones older than
// the lookback window, and hands every other card to a Resolver, which opens
// the post, reads its date and image URLs from the detail markup and
// navigates back. Element lookups are always done by selector and index
// right before use, because the feed re-renders on every navigation.
//
// The sweep stops when at least half of the visible cards are past the
// lookback window, when scrolling no longer grows the page, or when the
// iteration budget is spent.
package scraper
