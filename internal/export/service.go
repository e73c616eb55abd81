package export

import (
	"time"
)

// Service renders portfolio exports from a gallery snapshot.
type Service struct {
	artistName string
	now        func() time.Time
}

func NewService(artistName string) *Service {
	if artistName == "" {
		artistName = "Portfolio"
	}
	return &Service{
		artistName: artistName,
		now:        time.Now,
	}
}

// PortfolioPDF renders the given pieces into a PDF portfolio.
func (s *Service) PortfolioPDF(pieces []Piece) (*Result, error) {
	if len(pieces) == 0 {
		return nil, ErrNothingToExport
	}

	html, err := RenderPortfolioHTML(TemplateData{
		ArtistName: s.artistName,
		Generated:  s.now(),
		Pieces:     pieces,
	})
	if err != nil {
		return nil, err
	}
	return exportPDF(html, s.artistName+"-portfolio")
}
