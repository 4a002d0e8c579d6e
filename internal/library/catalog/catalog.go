// Package catalog はカテゴリごとの冊数・貸出可能数を書籍一覧から計算する。
package catalog

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"LIBRIS-backend/internal/platform/gateway"
)

type CategoryStats struct {
	Count          int `json:"count"`
	AvailableCount int `json:"available_count"`
}

type Summary struct {
	Category string `json:"category"`
	CategoryStats
}

// Normalize: 前後の空白を落として NFC に揃える（"Teología" の合成・分解の違いを吸収）
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Contains はカテゴリ一覧に c が含まれるか
func Contains(categories []string, c string) bool {
	c = Normalize(c)
	return slices.ContainsFunc(categories, func(x string) bool { return Normalize(x) == c })
}

// GroupByCategory は一覧にある全カテゴリ（0冊も含む）の集計を返す。
// 一覧に無いカテゴリの書籍は数えない
func GroupByCategory(books []gateway.Book, categories []string) map[string]CategoryStats {
	out := make(map[string]CategoryStats, len(categories))
	for _, s := range Summaries(books, categories) {
		out[s.Category] = s.CategoryStats
	}
	return out
}

// Summaries は GroupByCategory と同じ集計をカテゴリ一覧の順で返す
func Summaries(books []gateway.Book, categories []string) []Summary {
	index := make(map[string]int, len(categories))
	out := make([]Summary, 0, len(categories))
	for _, c := range categories {
		key := Normalize(c)
		if _, dup := index[key]; dup || key == "" {
			continue
		}
		index[key] = len(out)
		out = append(out, Summary{Category: c})
	}

	for _, b := range books {
		i, ok := index[Normalize(b.Category)]
		if !ok {
			continue
		}
		out[i].Count++
		if b.Available {
			out[i].AvailableCount++
		}
	}
	return out
}
