package cvstore

import (
	"gorm.io/datatypes"

	"cvSync/internal/cv"
	"cvSync/internal/database"
)

// columns 是七个内容字段在数据库中的 JSON 表示。
type columns map[cv.Slot]datatypes.JSON

func emptyColumns() columns {
	cols, _ := encodeColumns(cv.Empty())
	return cols
}

func encodeColumns(content cv.Content) (columns, error) {
	cols := make(columns, len(cv.Slots))
	for _, slot := range cv.Slots {
		value, ok := content[slot]
		if !ok {
			continue
		}
		data, err := cv.EncodeSlot(slot, value)
		if err != nil {
			return nil, err
		}
		cols[slot] = datatypes.JSON(data)
	}
	return cols, nil
}

func decodeColumns(cols columns) (cv.Content, error) {
	content := make(cv.Content, len(cv.Slots))
	for _, slot := range cv.Slots {
		value, err := cv.DecodeSlot(slot, cols[slot])
		if err != nil {
			return nil, err
		}
		content[slot] = value
	}
	return content, nil
}

func columnsOf(record *database.CV) columns {
	return columns{
		cv.PersonalInfo: record.PersonalInfo,
		cv.Education:    record.Education,
		cv.Experience:   record.Experience,
		cv.Skills:       record.Skills,
		cv.Languages:    record.Languages,
		cv.Certificates: record.Certificates,
		cv.VideoInfo:    record.VideoInfo,
	}
}

func (c columns) apply(record *database.CV) {
	record.PersonalInfo = c[cv.PersonalInfo]
	record.Education = c[cv.Education]
	record.Experience = c[cv.Experience]
	record.Skills = c[cv.Skills]
	record.Languages = c[cv.Languages]
	record.Certificates = c[cv.Certificates]
	record.VideoInfo = c[cv.VideoInfo]
}

func (c columns) applyTranslation(row *database.CVTranslation) {
	row.PersonalInfo = c[cv.PersonalInfo]
	row.Education = c[cv.Education]
	row.Experience = c[cv.Experience]
	row.Skills = c[cv.Skills]
	row.Languages = c[cv.Languages]
	row.Certificates = c[cv.Certificates]
	row.VideoInfo = c[cv.VideoInfo]
}

func decodeTranslation(row database.CVTranslation) (*Translation, error) {
	content, err := decodeColumns(columns{
		cv.PersonalInfo: row.PersonalInfo,
		cv.Education:    row.Education,
		cv.Experience:   row.Experience,
		cv.Skills:       row.Skills,
		cv.Languages:    row.Languages,
		cv.Certificates: row.Certificates,
		cv.VideoInfo:    row.VideoInfo,
	})
	if err != nil {
		return nil, err
	}
	return &Translation{
		CVID:      row.CVID,
		Language:  cv.Language(row.LanguageCode),
		Content:   content,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
