/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package identity derives the stable identity of an edge worker: its
// hardware serial and the human-friendly display identifier shown to
// operators.
package identity

import (
	"crypto/md5" //nolint:gosec // used for a stable name mapping, not for security
	"encoding/binary"
)

//nolint:gochecknoglobals // fixed word lists, order is part of the mapping
var (
	Adjectives = []string{
		"Swift", "Brave", "Calm", "Wise", "Quick", "Bright", "Keen", "Bold",
		"Cool", "Warm", "Fast", "Slow", "Kind", "Neat", "Safe", "Pure",
		"Rare", "Vast", "Wild", "Young", "Agile", "Clear", "Crisp", "Dense",
		"Eager", "Fancy", "Fleet", "Fresh", "Giant", "Grand", "Happy", "Jolly",
		"Light", "Lively", "Lucky", "Merry", "Noble", "Proud", "Quiet", "Rapid",
		"Royal", "Sharp", "Smart", "Snowy", "Solid", "Spry", "Stark", "Stout",
		"Sturdy", "Sunny", "Super", "Tidy", "Tiny", "Vivid", "Witty", "Zesty",
	}

	Animals = []string{
		"Panda", "Tiger", "Eagle", "Whale", "Bear", "Wolf", "Fox", "Hawk",
		"Deer", "Seal", "Otter", "Lynx", "Owl", "Swan", "Crane", "Falcon",
		"Koala", "Zebra", "Giraffe", "Rhino", "Hippo", "Puma", "Jaguar", "Cheetah",
		"Leopard", "Rabbit", "Mouse", "Squirrel", "Dolphin", "Shark", "Cat", "Fish",
	}
)

// DisplayIdentifier maps a hardware serial to an "Adjective-Animal" name.
// The same serial always yields the same name; distinct serials may collide.
func DisplayIdentifier(serial string) string {
	sum := md5.Sum([]byte(serial)) //nolint:gosec // see import

	adj := binary.BigEndian.Uint32(sum[0:4]) % uint32(len(Adjectives))
	animal := binary.BigEndian.Uint32(sum[4:8]) % uint32(len(Animals))

	return Adjectives[adj] + "-" + Animals[animal]
}
