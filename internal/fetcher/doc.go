// Package fetcher selects a Fetcher per scraper kind and classifies fetch
// results into success, retryable failure, or terminal failure.
//
// The concrete fetchers live in subpackages: colly (plain HTTP), text
// (structural text extraction), render (w3m text dump) and headless
// (chromedp).
package fetcher
