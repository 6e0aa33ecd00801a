package session

// seededRandomScript replaces Math.random in every document with a
// mulberry32 stream from a fixed seed, so page behavior that keys off
// randomness is reproducible across recording and replay runs.
const seededRandomScript = `(() => {
  let s = 0x5eab5eed;
  Math.random = () => {
    s = (s + 0x6d2b79f5) | 0;
    let t = Math.imul(s ^ (s >>> 15), 1 | s);
    t = (t + Math.imul(t ^ (t >>> 7), 61 | t)) ^ t;
    return ((t ^ (t >>> 14)) >>> 0) / 4294967296;
  };
})();`
