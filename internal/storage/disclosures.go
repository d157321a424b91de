package storage

import (
	"time"
)

// InsertDisclosure stores d unless its receipt number exists.
// It reports whether a row was inserted.
func (s *Store) InsertDisclosure(d Disclosure) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO disclosures (rcept_no, corp_code, corp_name, stock_code, report_name, filer_name, receipt_date, remark, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ReceiptNo, d.CorpCode, d.CorpName, d.StockCode, d.ReportName, d.FilerName, d.ReceiptDate, d.Remark,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListDisclosures returns the newest filings for corpCode first.
func (s *Store) ListDisclosures(corpCode string, limit int) ([]Disclosure, error) {
	rows, err := s.db.Query(`
		SELECT rcept_no, corp_code, corp_name, stock_code, report_name, filer_name, receipt_date, remark, created_at
		FROM disclosures WHERE corp_code = ?
		ORDER BY receipt_date DESC, rcept_no DESC LIMIT ?`, corpCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Disclosure
	for rows.Next() {
		var d Disclosure
		var createdAt string
		if err := rows.Scan(&d.ReceiptNo, &d.CorpCode, &d.CorpName, &d.StockCode, &d.ReportName,
			&d.FilerName, &d.ReceiptDate, &d.Remark, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// InsertFinancialLine stores l unless the same statement line exists.
func (s *Store) InsertFinancialLine(l FinancialLine) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO financial_statements (rcept_no, corp_code, bsns_year, reprt_code, sj_div, fs_div, account_nm, ord, amount_current, amount_prior, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ReceiptNo, l.CorpCode, l.BusinessYear, l.ReportCode, l.StatementDiv, l.FSDiv, l.AccountName, l.Ord,
		l.CurrentAmount, l.PriorAmount, l.Currency, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListFinancialLines returns the lines of one filing in statement order.
func (s *Store) ListFinancialLines(receiptNo string) ([]FinancialLine, error) {
	rows, err := s.db.Query(`
		SELECT rcept_no, corp_code, bsns_year, reprt_code, sj_div, fs_div, account_nm, ord, amount_current, amount_prior, currency
		FROM financial_statements WHERE rcept_no = ?
		ORDER BY sj_div ASC, ord ASC, account_nm ASC`, receiptNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FinancialLine
	for rows.Next() {
		var l FinancialLine
		if err := rows.Scan(&l.ReceiptNo, &l.CorpCode, &l.BusinessYear, &l.ReportCode, &l.StatementDiv, &l.FSDiv,
			&l.AccountName, &l.Ord, &l.CurrentAmount, &l.PriorAmount, &l.Currency); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}
