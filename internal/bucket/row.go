package bucket

import (
	"github.com/freeeve/pgnzst/internal/game"
)

// Row is one game in a bucket file. Result uses the stored codes of
// game.Result: 0 white win, 1 black win, 2 draw, 3 unknown. Pointer
// fields are optional columns; an absent rating is stored as null.
type Row struct {
	WhiteElo             *int32 `parquet:"white_elo"`
	BlackElo             *int32 `parquet:"black_elo"`
	TimeControlBase      int32  `parquet:"time_control_base"`
	TimeControlIncrement int32  `parquet:"time_control_increment"`
	Result               int32  `parquet:"result"`

	MovetextLength int32  `parquet:"movetext_length"`
	MovetextHash   uint64 `parquet:"movetext_hash"`
	Termination    string `parquet:"termination,optional"`
	Movetext       string `parquet:"movetext,optional"`
}

// RowOf converts an accepted game. Time control fields are always
// present on accepted games.
func RowOf(g game.Game) Row {
	return Row{
		WhiteElo:             int32Ptr(g.WhiteElo),
		BlackElo:             int32Ptr(g.BlackElo),
		TimeControlBase:      int32(g.TimeControlBase.Value),
		TimeControlIncrement: int32(g.TimeControlIncrement.Value),
		Result:               int32(g.Result),
		MovetextLength:       int32(g.MovetextLen),
		MovetextHash:         g.MovetextHash,
		Termination:          g.Termination,
		Movetext:             g.Movetext,
	}
}

func int32Ptr(o game.Optional[int]) *int32 {
	if !o.Valid {
		return nil
	}
	v := int32(o.Value)
	return &v
}
