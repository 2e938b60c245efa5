package internal

import (
	"math/rand/v2"
)

// Rotation 加權隨機選圖
//
// 系統設計考量：
//
//  1. 為什麼不用純隨機？
//     連續兩場同一張圖體驗很差，但完全禁止重複又太死板
//
//  2. 權重更新（每次 startMatch）：
//     - 選圖前所有權重 -1（下限 1）
//     - 選中的圖權重設為 hotWeight（100）
//     - endMatch 會把權重表重置為基準（全部 = 1），所以實際上每場都是均等抽籤
//
//  3. 權重表由 Room 持有，Rotation 本身無狀態，可多房間共用
type Rotation struct {
	maps      []string // 固定順序，累加權重時依此順序走訪
	fallback  string
	hotWeight int
	draw      func() float64 // 回傳 [0, 1)
}

// RotationOption 設定 Rotation
type RotationOption func(*Rotation)

// WithDraw 注入隨機來源（測試用）
func WithDraw(draw func() float64) RotationOption {
	return func(r *Rotation) {
		r.draw = draw
	}
}

// NewRotation 創建選圖器
func NewRotation(maps []string, fallback string, hotWeight int, opts ...RotationOption) *Rotation {
	if fallback == "" && len(maps) > 0 {
		fallback = maps[0]
	}
	r := &Rotation{
		maps:      append([]string(nil), maps...),
		fallback:  fallback,
		hotWeight: hotWeight,
		draw:      rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Baseline 均等權重表（每張圖 = 1）
func (r *Rotation) Baseline() map[string]int {
	weights := make(map[string]int, len(r.maps))
	for _, m := range r.maps {
		weights[m] = 1
	}
	return weights
}

// Next 套用冷卻、抽籤、加熱，回傳選中的地圖。
//
// weights 會被就地修改（呼叫端需持有房間鎖）。
func (r *Rotation) Next(weights map[string]int) string {
	for _, m := range r.maps {
		w := weights[m] - 1
		if w < 1 {
			w = 1
		}
		weights[m] = w
	}

	chosen := r.Pick(weights)
	if _, ok := weights[chosen]; ok {
		weights[chosen] = r.hotWeight
	}
	return chosen
}

// Pick 加權抽籤（不修改權重）。
//
// 在 [0, total) 取一個均勻實數，依地圖順序累加權重，
// 回傳第一個累計值超過抽籤值的地圖。
// 權重表為空或不合法時回傳預設地圖。
func (r *Rotation) Pick(weights map[string]int) string {
	total := 0
	for _, m := range r.maps {
		w, ok := weights[m]
		if !ok || w < 1 {
			return r.fallback
		}
		total += w
	}
	if total == 0 {
		return r.fallback
	}

	target := r.draw() * float64(total)
	cumulative := 0
	for _, m := range r.maps {
		cumulative += weights[m]
		if float64(cumulative) > target {
			return m
		}
	}
	return r.fallback
}
