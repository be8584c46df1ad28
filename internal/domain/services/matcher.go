package services

import (
	"fmt"
	"sort"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// MatchResult разбиение записей прогона: каждая входная запись попадает ровно в одну часть
type MatchResult struct {
	// Groups группы с записями минимум двух маркетплейсов
	Groups []models.ProductGroup
	// Unmatched записи без пары на других маркетплейсах
	Unmatched []models.CatalogRecord
	// Rejected записи групп, отброшенных из-за повтора stock code внутри маркетплейса
	Rejected []models.CatalogRecord
	// Notes причины отказа по stock code
	Notes []models.RejectedGroup
}

// Total число записей во всех частях разбиения
func (r MatchResult) Total() int {
	n := len(r.Unmatched) + len(r.Rejected)
	for _, g := range r.Groups {
		n += len(g.Records)
	}
	return n
}

// Match группирует записи по stock code. Сравнение побайтное, без нормализации
// и без сопоставления по штрихкоду. Результат не зависит от порядка входа.
func Match(records []models.CatalogRecord) MatchResult {
	byCode := make(map[string][]models.CatalogRecord)
	for _, r := range records {
		byCode[r.StockCode] = append(byCode[r.StockCode], r)
	}
	codes := make([]string, 0, len(byCode))
	for sc := range byCode {
		codes = append(codes, sc)
	}
	sort.Strings(codes)

	var res MatchResult
	for _, sc := range codes {
		recs := byCode[sc]
		models.SortRecords(recs)

		if dup, ok := duplicateMarketplace(recs); ok {
			res.Rejected = append(res.Rejected, recs...)
			res.Notes = append(res.Notes, models.RejectedGroup{
				StockCode:   sc,
				Marketplace: dup,
				Note:        fmt.Sprintf("duplicate stock code on %s", dup),
			})
			continue
		}
		if len(recs) < 2 {
			res.Unmatched = append(res.Unmatched, recs...)
			continue
		}
		g, err := models.NewProductGroup(sc, recs...)
		if err != nil {
			// после проверки дубликатов сюда попасть нельзя
			res.Rejected = append(res.Rejected, recs...)
			res.Notes = append(res.Notes, models.RejectedGroup{StockCode: sc, Note: err.Error()})
			continue
		}
		res.Groups = append(res.Groups, g)
	}
	return res
}

// duplicateMarketplace первый маркетплейс, на котором stock code встречается дважды.
// Записи уже отсортированы по маркетплейсу.
func duplicateMarketplace(recs []models.CatalogRecord) (models.Marketplace, bool) {
	for i := 1; i < len(recs); i++ {
		if recs[i].Marketplace == recs[i-1].Marketplace {
			return recs[i].Marketplace, true
		}
	}
	return "", false
}
